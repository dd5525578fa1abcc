package consensus

import (
	"strings"
	"unicode"
)

// 标题比较时忽略的虚词
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "in": true, "on": true, "of": true, "to": true,
	"for": true, "and": true, "or": true, "at": true, "by": true, "with": true, "via": true,
	"is": true, "be": true, "from": true, "function": true,
}

// TitleTokens 小写、去标点、去虚词后的标题 token 集合
func TitleTokens(title string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		tokens[f] = true
	}
	return tokens
}

// Similarity 两个标题的 token 重叠率（Jaccard），取值 [0,1]。
// 任一标题没有有效 token 时为 0。
func Similarity(a, b string) float64 {
	return jaccard(TitleTokens(a), TitleTokens(b))
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// NormalizeReference 规范化代码引用：去首尾空白、折叠内部空白、去掉 "line"/"L" 前缀
func NormalizeReference(ref string) string {
	ref = strings.Join(strings.Fields(ref), " ")
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"lines ", "line ", "l"} {
		if strings.HasPrefix(lower, prefix) && len(lower) > len(prefix) && isDigit(lower[len(prefix)]) {
			return lower[len(prefix):]
		}
	}
	return ref
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
