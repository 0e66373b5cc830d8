// Package runbook loads templated remediation procedures and dispatches
// their steps through the tool router.
package runbook

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var ErrNoRunbooks = errors.New("no runbooks available")

type Runbook struct {
	Name  string   `yaml:"-"`
	Steps []string `yaml:"steps"`
}

var extensions = map[string]bool{".md": true, ".yaml": true, ".yml": true}

// LoadDir reads every runbook in dir in file name order. Documents that do
// not parse are skipped with a warning.
func LoadDir(dir string) ([]Runbook, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read runbooks dir: %w", err)
	}
	out := []Runbook{}
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		// #nosec G304 -- runbooks dir is operator-configured.
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		rb, err := Parse(e.Name(), data)
		if err != nil {
			log.Warn().Err(err).Str("runbook", e.Name()).Msg("skipping unreadable runbook")
			continue
		}
		out = append(out, rb)
	}
	return out, nil
}

// Parse decodes a runbook document. Markdown files may carry the steps in a
// leading "---" front matter block; otherwise the whole file is YAML.
func Parse(name string, data []byte) (Runbook, error) {
	doc := frontMatter(data)
	var rb Runbook
	if err := yaml.Unmarshal(doc, &rb); err != nil {
		return Runbook{}, err
	}
	rb.Name = name
	return rb, nil
}

func frontMatter(data []byte) []byte {
	trimmed := bytes.TrimPrefix(data, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, []byte("---\n")) && !bytes.HasPrefix(trimmed, []byte("---\r\n")) {
		return data
	}
	body := trimmed[bytes.IndexByte(trimmed, '\n')+1:]
	for _, sep := range [][]byte{[]byte("\n---\n"), []byte("\n---\r\n"), []byte("\n...\n")} {
		if i := bytes.Index(body, sep); i >= 0 {
			return body[:i+1]
		}
	}
	return body
}

// Select prefers a runbook named for 500s when the metric mentions 5xx and
// otherwise takes the first one.
func Select(books []Runbook, metric string) (Runbook, bool) {
	if len(books) == 0 {
		return Runbook{}, false
	}
	if strings.Contains(metric, "5xx") {
		for _, rb := range books {
			if strings.Contains(rb.Name, "500s") {
				return rb, true
			}
		}
	}
	return books[0], true
}
