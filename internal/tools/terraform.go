package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/juanpasaflipz/agentic-devops/internal/crypto"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

const defaultMockCostPct = 5.0

// Terraform simulates plan and apply. The plan's cost drift comes from
// configuration so operators can exercise the cost gate.
type Terraform struct {
	MockCostPct *float64
	Now         func() time.Time
}

func (t *Terraform) Plan(_ context.Context, params types.Fields) (types.Fields, error) {
	workspace := params.Str("workspace")
	dir := params.Str("dir")
	if workspace == "" || dir == "" {
		return nil, fmt.Errorf("workspace and dir are required")
	}
	seed := fmt.Sprintf("%s:%s:%d", workspace, dir, t.Now().UnixMilli())
	planID, err := crypto.ShortID([]byte(seed), 12)
	if err != nil {
		return nil, err
	}
	cost := defaultMockCostPct
	if t.MockCostPct != nil {
		cost = *t.MockCostPct
	}
	return types.Fields{
		"ok":             true,
		"plan_id":        planID,
		"cost_drift_pct": cost,
		"diff_summary":   "Resources to add: 1, change: 0, destroy: 0",
	}, nil
}

func (t *Terraform) Apply(_ context.Context, params types.Fields) (types.Fields, error) {
	if params.Str("plan_id") == "" {
		return nil, fmt.Errorf("plan_id is required")
	}
	return types.Fields{"ok": true}, nil
}
