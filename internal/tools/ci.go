package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

const simulatedCIJob = "https://example.ci/jobs/12345"

var validPipelines = map[string]bool{"test": true, "build": true, "sast": true, "dast": true, "sbom": true}

// CI triggers a pipeline on a CI service that accepts
// POST <base>/pipelines and replies {"ok","url"}. Without a base URL the run
// is simulated as a success.
type CI struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type ciResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

func (c *CI) Run(ctx context.Context, params types.Fields) (types.Fields, error) {
	pipeline := params.Str("pipeline")
	ref := params.Str("ref")
	repo := params.Str("repo")
	if !validPipelines[pipeline] {
		return nil, fmt.Errorf("unsupported pipeline %q", pipeline)
	}
	summary := fmt.Sprintf("Ran %s on %s in %s", pipeline, ref, repo)
	if c.BaseURL == "" {
		return types.Fields{"ok": true, "url": simulatedCIJob, "summary": summary}, nil
	}

	payload, err := json.Marshal(map[string]string{"pipeline": pipeline, "ref": ref, "repo": repo})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/pipelines", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ci run: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ci run: status %d", resp.StatusCode)
	}
	var out ciResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ci run: decode: %w", err)
	}
	result := types.Fields{"ok": out.OK, "summary": summary}
	if out.URL != "" {
		result["url"] = out.URL
	}
	return result, nil
}
