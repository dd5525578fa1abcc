package patch

import (
	"regexp"
	"strconv"
	"strings"
)

// maxSpan 单个补丁最多截取的源码行数
const maxSpan = 20

var (
	// 整个引用就是行号：42 / L42 / line 42 / lines 42-45 / 42:45
	lineRefRe = regexp.MustCompile(`(?i)^\s*(?:lines?\s*|l)?(\d+)(?:\s*[-–:~]\s*(?:l|line\s*)?(\d+))?\s*$`)
	// 引用文本里夹带的行号，例如 "withdraw(), line 42"
	embeddedLineRe = regexp.MustCompile(`(?i)\blines?\s*(\d+)(?:\s*[-–]\s*(\d+))?`)
	backtickRe     = regexp.MustCompile("`([^`\n]{4,})`")
)

// Location 补丁对应的源码片段，行号从 1 开始
type Location struct {
	StartLine int
	EndLine   int
	Code      string
}

func splitLines(source string) []string {
	return strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
}

// Locate 按行号、原文片段、描述中的反引号片段的顺序定位源码
func Locate(source, ref, description string) (Location, bool) {
	lines := splitLines(source)
	ref = strings.TrimSpace(ref)

	if ref != "" {
		if m := lineRefRe.FindStringSubmatch(ref); m != nil {
			return byLines(lines, m[1], m[2])
		}
		if loc, ok := bySnippet(lines, ref); ok {
			return loc, true
		}
		if m := embeddedLineRe.FindStringSubmatch(ref); m != nil {
			if loc, ok := byLines(lines, m[1], m[2]); ok {
				return loc, true
			}
		}
	}

	for _, m := range backtickRe.FindAllStringSubmatch(description, -1) {
		if loc, ok := bySnippet(lines, m[1]); ok {
			return loc, true
		}
	}
	return Location{}, false
}

func byLines(lines []string, from, to string) (Location, bool) {
	start, err := strconv.Atoi(from)
	if err != nil || start < 1 || start > len(lines) {
		return Location{}, false
	}
	end := start
	if to != "" {
		if e, err := strconv.Atoi(to); err == nil && e >= start {
			end = e
		}
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end-start+1 > maxSpan {
		end = start + maxSpan - 1
	}
	return span(lines, start, end), true
}

// bySnippet 片段（去掉首尾空白后）原样出现在源码中时，取覆盖它的完整行
func bySnippet(lines []string, snippet string) (Location, bool) {
	snippet = strings.TrimSpace(snippet)
	if len(snippet) < 4 {
		return Location{}, false
	}
	source := strings.Join(lines, "\n")
	idx := strings.Index(source, snippet)
	if idx < 0 {
		return Location{}, false
	}
	start := strings.Count(source[:idx], "\n") + 1
	end := start + strings.Count(snippet, "\n")
	if end-start+1 > maxSpan {
		end = start + maxSpan - 1
	}
	return span(lines, start, end), true
}

// byAnchor 第一个匹配 anchor 的行，向下最多扩展 extra 行（不越过块结束的 "}"）
func byAnchor(source string, anchor *regexp.Regexp, extra int) (Location, bool) {
	if anchor == nil {
		return Location{}, false
	}
	lines := splitLines(source)
	for i, line := range lines {
		if !anchor.MatchString(line) {
			continue
		}
		end := i + 1
		for n := 0; n < extra && end < len(lines); n++ {
			if strings.HasPrefix(strings.TrimSpace(lines[end]), "}") {
				break
			}
			end++
		}
		return span(lines, i+1, end), true
	}
	return Location{}, false
}

func span(lines []string, start, end int) Location {
	return Location{
		StartLine: start,
		EndLine:   end,
		Code:      strings.Join(lines[start-1:end], "\n"),
	}
}

func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
