package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions 所有子命令共享的选项
type rootOptions struct {
	configPath string
	verbose    bool
	logger     *zerolog.Logger
}

// newLogger 控制台格式的 zerolog，verbose 时输出 debug
func newLogger(out io.Writer, verbose bool) *zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
	return &logger
}

// NewRootCmd 构建命令树
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "audit-consensus",
		Short:         "Multi-model AI security review for Solidity contracts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.verbose)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "settings file (default: ./settings.yaml or ./config/settings.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newAuditCmd(opts))
	root.AddCommand(newModelsCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

// Run 解析参数并执行；Ctrl-C 会取消正在进行的模型调用，已完成的结果仍会写入报告
func Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return NewRootCmd().ExecuteContext(ctx)
}

// PrintFatal 将错误打印到 stderr 并以非零代码退出。
func PrintFatal(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}
