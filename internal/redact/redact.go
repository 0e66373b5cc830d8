// Package redact scrubs known secret patterns from text before it is
// persisted or returned to a caller.
package redact

import (
	"encoding/json"
	"regexp"

	"github.com/rs/zerolog/log"
)

// Mask replaces every matched secret.
const Mask = "***REDACTED***"

// DefaultPatterns cover AWS access key ids and GitHub personal tokens.
var DefaultPatterns = []string{
	`AKIA[0-9A-Z]{16}`,
	`ghp_[A-Za-z0-9]{36}`,
}

// Redactor applies an ordered list of compiled patterns.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New compiles the default patterns followed by extra. Extra patterns that
// fail to compile are logged and skipped.
func New(extra ...string) *Redactor {
	r := &Redactor{}
	for _, p := range DefaultPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	for _, p := range extra {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("skipping invalid redaction pattern")
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	return r
}

// Redact returns text with every pattern match replaced by Mask.
func (r *Redactor) Redact(text string) string {
	if r == nil {
		return text
	}
	out := text
	for _, re := range r.patterns {
		out = re.ReplaceAllLiteralString(out, Mask)
	}
	return out
}

// Map returns a redacted copy of m. m is first normalized through JSON so
// nested typed values are plain maps, slices and strings; then every string
// and map key is redacted in place. The JSON syntax itself is never matched.
func (r *Redactor) Map(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	var plain map[string]any
	if err := normalize(m, &plain); err != nil {
		return nil, err
	}
	return r.walk(plain).(map[string]any), nil
}

// JSON encodes v with every string in it redacted.
func (r *Redactor) JSON(v any) (json.RawMessage, error) {
	var plain any
	if err := normalize(v, &plain); err != nil {
		return nil, err
	}
	return json.Marshal(r.walk(plain))
}

func normalize(v any, into any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

func (r *Redactor) walk(v any) any {
	switch t := v.(type) {
	case string:
		return r.Redact(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[r.Redact(k)] = r.walk(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.walk(val)
		}
		return out
	default:
		return v
	}
}
