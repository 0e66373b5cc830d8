package runbook

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Template replaces every {{name}} with the stringified field, or "" when
// the field is absent.
func Template(step string, vars types.Fields) string {
	return placeholder.ReplaceAllStringFunc(step, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		return vars.Str(name)
	})
}

// Call is a parsed step: tool(key: value, ...).
type Call struct {
	Tool   string
	Params types.Fields
}

const spaces = " \t\r\n\f\v"

// ParseCall parses a step of the form name(key: value, ...). Any other shape
// reports false.
func ParseCall(step string) (Call, bool) {
	i := 0
	for i < len(step) && isWord(step[i]) {
		i++
	}
	if i == 0 {
		return Call{}, false
	}
	name := step[:i]

	rest := strings.TrimLeft(step[i:], spaces)
	if !strings.HasPrefix(rest, "(") {
		return Call{}, false
	}
	rest = strings.TrimRight(rest[1:], spaces)
	if !strings.HasSuffix(rest, ")") {
		return Call{}, false
	}
	args := rest[:len(rest)-1]
	if strings.ContainsAny(args, "\r\n") {
		return Call{}, false
	}

	params := types.Fields{}
	for _, part := range splitArgs(strings.TrimSpace(args)) {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		params[strings.TrimSpace(key)] = coerce(strings.TrimSpace(value))
	}
	return Call{Tool: name, Params: params}, true
}

func isWord(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// splitArgs splits on commas outside quotes. A quote closes only on the same
// character that opened it.
func splitArgs(s string) []string {
	out := []string{}
	var cur strings.Builder
	var quote rune
	for _, ch := range s {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == ',':
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteRune(ch)
	}
	if last := strings.TrimSpace(cur.String()); last != "" {
		out = append(out, last)
	}
	return out
}

func coerce(v string) any {
	switch {
	case isDigits(v):
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case isDecimal(v):
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case v == "true":
		return true
	case v == "false":
		return false
	}
	return unquote(v)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isDecimal(s string) bool {
	whole, frac, ok := strings.Cut(s, ".")
	return ok && isDigits(whole) && isDigits(frac)
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
