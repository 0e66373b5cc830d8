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

const defaultGitHubAPI = "https://api.github.com"

type GitHub struct {
	Token   string
	BaseURL string
	Client  *http.Client
}

func (g *GitHub) configured() bool {
	t := strings.ToLower(g.Token)
	return t != "" && !strings.Contains(t, "your_token") && !strings.Contains(t, "your_github_token_here")
}

// CommentPR posts body as an issue comment on pull request pr of repo (owner/name).
func (g *GitHub) CommentPR(ctx context.Context, params types.Fields) (types.Fields, error) {
	if !g.configured() {
		return types.Fields{"ok": true, "dry_run": true}, nil
	}
	owner, repo, ok := strings.Cut(params.Str("repo"), "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("repo must be owner/name, got %q", params.Str("repo"))
	}
	pr := params.Str("pr")
	if pr == "" {
		return nil, fmt.Errorf("pr is required")
	}

	base := g.BaseURL
	if base == "" {
		base = defaultGitHubAPI
	}
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%s/comments", strings.TrimRight(base, "/"), owner, repo, pr)
	payload, err := json.Marshal(map[string]string{"body": params.Str("body")})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.Token)
	req.Header.Set("User-Agent", "agentic-devops")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github comment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("github comment: status %d", resp.StatusCode)
	}
	return types.Fields{"ok": true}, nil
}
