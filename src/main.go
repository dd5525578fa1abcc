package main

import (
	"github.com/admi-n/audit-consensus/src/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		cmd.PrintFatal(err)
	}
}
