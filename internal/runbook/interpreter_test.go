package runbook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanpasaflipz/agentic-devops/internal/router"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

type call struct {
	tool   string
	params types.Fields
	runID  *int64
}

type fakeInvoker struct {
	calls []call
	fail  map[string]error
	soft  map[string]bool
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, params types.Fields, runID *int64) (types.Fields, error) {
	f.calls = append(f.calls, call{tool: name, params: params, runID: runID})
	if _, ok := router.ParseKind(name); !ok {
		return nil, &router.UnknownToolError{Name: name}
	}
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	if f.soft[name] {
		return types.Fields{"ok": false, "error": "soft"}, nil
	}
	return types.Fields{"ok": true}, nil
}

func writeRunbooks(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

const generic = `steps:
  - "Page the on-call for {{service}}"
  - "metrics_check(service: {{service}}, window_min: 5)"
`

const fiveHundreds = `---
steps:
  - "metrics_check(service: {{service}}, window_min: 10)"
  - "k8s_rollback(environment: {{env}}, service: {{service}})"
  - "scale_up(service: {{service}})"
  - "notify(channel: ops, severity: {{severity}}, message: \"rolled back {{service}}, watching\")"
---

# HTTP 500s

Operator notes live below the front matter.
`

func TestLoadDirAndSelect(t *testing.T) {
	dir := writeRunbooks(t, map[string]string{
		"generic.md":   generic,
		"http-500s.md": fiveHundreds,
		"notes.txt":    "ignored",
		"broken.yaml":  "steps: [unterminated",
	})
	books, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "generic.md", books[0].Name)
	assert.Len(t, books[1].Steps, 4)

	rb, ok := Select(books, "http_5xx_rate")
	require.True(t, ok)
	assert.Equal(t, "http-500s.md", rb.Name)

	rb, ok = Select(books, "latency_p95")
	require.True(t, ok)
	assert.Equal(t, "generic.md", rb.Name)

	_, ok = Select(nil, "5xx")
	assert.False(t, ok)

	_, err = LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRunContinuesPastFailures(t *testing.T) {
	dir := writeRunbooks(t, map[string]string{"http-500s.md": fiveHundreds})
	inv := &fakeInvoker{
		fail: map[string]error{"metrics_check": errors.New("prometheus down")},
		soft: map[string]bool{"k8s_rollback": true},
	}
	runID := int64(-3)
	incident := types.Fields{"service": "checkout", "env": "prod", "metric": "5xx", "severity": "high"}

	res, err := NewInterpreter(dir, inv).Run(context.Background(), incident, &runID)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "http-500s.md", res.Runbook)

	require.Len(t, inv.calls, 4, "every parsed step is attempted")
	assert.Equal(t, []string{"metrics_check", "k8s_rollback", "scale_up", "notify"},
		[]string{inv.calls[0].tool, inv.calls[1].tool, inv.calls[2].tool, inv.calls[3].tool})
	assert.Equal(t, "prod", inv.calls[1].params["environment"])
	assert.Equal(t, "rolled back checkout, watching", inv.calls[3].params["message"])
	assert.Equal(t, &runID, inv.calls[0].runID)

	require.Len(t, res.Steps, 4)
	assert.False(t, res.Steps[0].OK)
	assert.Equal(t, "prometheus down", res.Steps[0].Error)
	assert.False(t, res.Steps[1].OK)
	assert.False(t, res.Steps[2].OK)
	assert.Contains(t, res.Steps[2].Error, "unknown tool")
	assert.True(t, res.Steps[3].OK)
}

func TestRunWithoutRunbooks(t *testing.T) {
	_, err := NewInterpreter(t.TempDir(), &fakeInvoker{}).Run(context.Background(), types.Fields{}, nil)
	assert.ErrorIs(t, err, ErrNoRunbooks)
}
