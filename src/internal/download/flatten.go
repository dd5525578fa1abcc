package download

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type standardJSON struct {
	Sources map[string]struct {
		Content string `json:"content"`
	} `json:"sources"`
}

// Flatten 把 Etherscan 的 SourceCode 字段展开成单个文本。
// 支持三种形式：单文件源码、{{standard-json}} 以及 {"路径": {"content": ...}} 多文件映射。
func Flatten(raw string) (string, []string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw, nil, nil
	}

	// standard-json 被额外包了一层大括号
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		trimmed = trimmed[1 : len(trimmed)-1]
	}

	sources := map[string]string{}
	var std standardJSON
	if err := json.Unmarshal([]byte(trimmed), &std); err == nil && len(std.Sources) > 0 {
		for path, s := range std.Sources {
			sources[path] = s.Content
		}
	} else {
		var files map[string]struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(trimmed), &files); err != nil {
			return "", nil, fmt.Errorf("unrecognised multi-file source: %w", err)
		}
		for path, s := range files {
			sources[path] = s.Content
		}
	}
	if len(sources) == 0 {
		return "", nil, fmt.Errorf("multi-file source has no files")
	}

	paths := make([]string, 0, len(sources))
	for p := range sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for i, p := range paths {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("// File: " + p + "\n")
		b.WriteString(strings.TrimRight(sources[p], "\n"))
	}
	return b.String(), paths, nil
}
