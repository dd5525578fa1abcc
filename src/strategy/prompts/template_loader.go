package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TemplateExt prompt 模板文件后缀
const TemplateExt = ".tmpl"

// DefaultDir 按名称查找模板的目录
var DefaultDir = filepath.Join("strategy", "prompts")

// LoadTemplate 从文件加载 prompt 模板
func LoadTemplate(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to load template %s: %w", path, err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return "", fmt.Errorf("template %s is empty", path)
	}
	return string(content), nil
}

// ListTemplates 列出目录中所有 .tmpl 模板（不含后缀）
func ListTemplates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), TemplateExt) {
			names = append(names, strings.TrimSuffix(entry.Name(), TemplateExt))
		}
	}
	sort.Strings(names)
	return names, nil
}

// ResolveTemplate 名称或路径均可：带路径分隔符或后缀时按文件处理，否则在 dir 下查找 name.tmpl
func ResolveTemplate(dir, nameOrPath string) (string, error) {
	if nameOrPath == "" {
		return DefaultTemplate, nil
	}
	path := nameOrPath
	if !strings.ContainsRune(nameOrPath, filepath.Separator) && !strings.HasSuffix(nameOrPath, TemplateExt) {
		path = filepath.Join(dir, nameOrPath+TemplateExt)
	}
	content, err := LoadTemplate(path)
	if err != nil && path != nameOrPath {
		if names, lerr := ListTemplates(dir); lerr == nil && len(names) > 0 {
			return "", fmt.Errorf("%w (available: %s)", err, strings.Join(names, ", "))
		}
	}
	return content, err
}
