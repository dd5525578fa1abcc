package patch

import (
	"regexp"
	"strings"
)

// rule 一类漏洞的改写规则
type rule struct {
	name      string
	keywords  []string
	anchor    *regexp.Regexp
	extra     int
	rationale string
	rewrite   func(code string) (string, bool)
}

var (
	extCallRe      = regexp.MustCompile(`\.call\s*\{|\.call\.value\s*\(|\.call\s*\(|\.transfer\s*\(|\.send\s*\(`)
	effectRe       = regexp.MustCompile(`(-=|\+=|=\s*0\s*;|^\s*delete\s)`)
	bareCallRe     = regexp.MustCompile(`^(\s*)([\w.\[\]()]+\.call(?:\s*\{[^}]*\})?\s*\(.*\))\s*;\s*$`)
	bareSendRe     = regexp.MustCompile(`^(\s*)([\w.\[\]()]+\.send\s*\(.*\))\s*;\s*$`)
	pragmaRe       = regexp.MustCompile(`pragma\s+solidity\s*[\^~>=<]*\s*(\d+\.\d+\.\d+)[^;]*;`)
	uncheckedRe    = regexp.MustCompile(`\bunchecked\s*\{`)
	nowRe          = regexp.MustCompile(`\bnow\b`)
	delegateRe     = regexp.MustCompile(`([\w.\[\]]+)\.delegatecall\s*\(`)
	selfdestructRe = regexp.MustCompile(`\b(selfdestruct|suicide)\s*\(`)
)

// 顺序即优先级：越具体的规则越靠前
var rules = []rule{
	{
		name:      "tx-origin",
		keywords:  []string{"tx.origin", "tx origin", "txorigin"},
		anchor:    regexp.MustCompile(`tx\.origin`),
		rationale: "tx.origin is the transaction originator, so any contract the owner interacts with can act on their behalf. Authorize against msg.sender.",
		rewrite: func(code string) (string, bool) {
			out := strings.ReplaceAll(code, "tx.origin", "msg.sender")
			return out, out != code
		},
	},
	{
		name:      "selfdestruct",
		keywords:  []string{"selfdestruct", "self-destruct", "self destruct", "suicide"},
		anchor:    selfdestructRe,
		rationale: "Anyone able to reach selfdestruct can permanently remove the contract and sweep its balance. Restrict it to the owner or remove it.",
		rewrite: func(code string) (string, bool) {
			if strings.Contains(code, "onlyOwner") || strings.Contains(code, "msg.sender == owner") {
				return code, false
			}
			return insertBefore(code, selfdestructRe, func(string) string {
				return `require(msg.sender == owner, "caller is not the owner");`
			})
		},
	},
	{
		name:      "delegatecall",
		keywords:  []string{"delegatecall", "delegate call"},
		anchor:    delegateRe,
		rationale: "delegatecall runs foreign code against this contract's storage. Only delegate to an allow-listed implementation.",
		rewrite: func(code string) (string, bool) {
			return insertBefore(code, delegateRe, func(line string) string {
				target := delegateRe.FindStringSubmatch(line)[1]
				return `require(trustedTargets[` + target + `], "untrusted delegatecall target");`
			})
		},
	},
	{
		name:      "floating-pragma",
		keywords:  []string{"pragma", "floating", "compiler version"},
		anchor:    pragmaRe,
		rationale: "A floating pragma lets the contract be compiled with untested compiler releases. Pin the exact version that was audited.",
		rewrite: func(code string) (string, bool) {
			out := pragmaRe.ReplaceAllString(code, "pragma solidity $1;")
			return out, out != code
		},
	},
	{
		name:      "reentrancy",
		keywords:  []string{"reentran", "re-entran", "re entran"},
		anchor:    extCallRe,
		extra:     6,
		rationale: "State is updated after an external call, so the callee can re-enter before balances change. Apply checks-effects-interactions and consider a nonReentrant guard.",
		rewrite:   checksEffectsInteractions,
	},
	{
		name:      "overflow",
		keywords:  []string{"overflow", "underflow", "arithmetic"},
		anchor:    uncheckedRe,
		rationale: "Unchecked arithmetic can wrap around silently. Rely on Solidity >=0.8 checked math or SafeMath for values derived from user input.",
		rewrite: func(code string) (string, bool) {
			if uncheckedRe.MatchString(code) {
				return uncheckedRe.ReplaceAllString(code, "{"), true
			}
			return withComment(code, "// use Solidity >=0.8 checked arithmetic or SafeMath here"), true
		},
	},
	{
		name:      "unchecked-call",
		keywords:  []string{"unchecked call", "unchecked low-level", "unchecked return", "return value", "low-level call", "unchecked send"},
		anchor:    extCallRe,
		rationale: "The low-level call can fail without reverting. Check its boolean result.",
		rewrite:   requireCallSuccess,
	},
	{
		name:      "timestamp",
		keywords:  []string{"timestamp", "block.timestamp", "time manipulation", "now"},
		anchor:    regexp.MustCompile(`block\.timestamp|\bnow\b`),
		rationale: "block.timestamp can be skewed by block producers. Do not use it for randomness or tight time windows.",
		rewrite: func(code string) (string, bool) {
			out := nowRe.ReplaceAllString(code, "block.timestamp")
			return withComment(out, "// block.timestamp is producer-controlled within a small window; avoid it for randomness"), true
		},
	},
}

// match 先按标题关键词匹配，标题无命中时再看描述
func match(title, description string) *rule {
	for _, text := range []string{title, description} {
		text = strings.ToLower(text)
		if text == "" {
			continue
		}
		for i := range rules {
			for _, kw := range rules[i].keywords {
				if containsWord(text, kw) {
					return &rules[i]
				}
			}
		}
	}
	return nil
}

// containsWord 关键词 "now" 之类的短词要求词边界
func containsWord(text, kw string) bool {
	if len(kw) > 4 {
		return strings.Contains(text, kw)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	return re.MatchString(text)
}

// checksEffectsInteractions 把外部调用之后的状态更新挪到调用之前
func checksEffectsInteractions(code string) (string, bool) {
	lines := strings.Split(code, "\n")
	callIdx := -1
	for i, l := range lines {
		if extCallRe.MatchString(l) {
			callIdx = i
			break
		}
	}
	if callIdx < 0 {
		return code, false
	}

	var effects, rest []string
	for _, l := range lines[callIdx+1:] {
		t := strings.TrimSpace(l)
		if effectRe.MatchString(l) && !strings.Contains(t, "==") && !strings.HasPrefix(t, "require") {
			effects = append(effects, l)
			continue
		}
		rest = append(rest, l)
	}
	if len(effects) == 0 {
		return code, false
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:callIdx]...)
	out = append(out, effects...)
	out = append(out, lines[callIdx])
	out = append(out, rest...)
	return strings.Join(out, "\n"), true
}

func requireCallSuccess(code string) (string, bool) {
	lines := strings.Split(code, "\n")
	changed := false
	out := make([]string, 0, len(lines)+1)
	for _, l := range lines {
		if strings.Contains(l, "=") || strings.Contains(l, "require") {
			out = append(out, l)
			continue
		}
		if m := bareCallRe.FindStringSubmatch(l); m != nil {
			out = append(out,
				m[1]+"(bool success, ) = "+m[2]+";",
				m[1]+`require(success, "call failed");`)
			changed = true
			continue
		}
		if m := bareSendRe.FindStringSubmatch(l); m != nil {
			out = append(out, m[1]+"require("+m[2]+`, "send failed");`)
			changed = true
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n"), changed
}

// insertBefore 在第一处匹配行之前插入一行守卫语句，缩进与该行一致
func insertBefore(code string, re *regexp.Regexp, guard func(line string) string) (string, bool) {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		if !re.MatchString(l) {
			continue
		}
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:i]...)
		out = append(out, indentOf(l)+guard(l))
		out = append(out, lines[i:]...)
		return strings.Join(out, "\n"), true
	}
	return code, false
}

// withComment 在代码前加注释，每行注释沿用代码首行的缩进
func withComment(code, comment string) string {
	indent := indentOf(strings.SplitN(code, "\n", 2)[0])
	var b strings.Builder
	for _, l := range strings.Split(comment, "\n") {
		b.WriteString(indent + l + "\n")
	}
	return b.String() + code
}
