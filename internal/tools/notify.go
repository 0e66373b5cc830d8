package tools

import (
	"context"
	"fmt"

	"github.com/juanpasaflipz/agentic-devops/internal/slack"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

type Notifier struct {
	Poster slack.Poster
}

func (n *Notifier) Send(ctx context.Context, params types.Fields) (types.Fields, error) {
	message := params.Str("message")
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if n.Poster == nil {
		return types.Fields{"ok": true, "dry_run": true}, nil
	}
	if err := n.Poster.Post(ctx, slack.FormatMessage(params.Str("severity"), message)); err != nil {
		return nil, err
	}
	return types.Fields{"ok": true, "channel": params.Str("channel")}, nil
}
