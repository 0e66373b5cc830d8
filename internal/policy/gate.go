package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

const (
	// DefaultEnvironment applies when an event names no environment.
	DefaultEnvironment = "dev"
	ProdEnvironment    = "prod"

	ReasonChangeWindowClosed = "Change window is closed for prod"
)

// gatedActions are action substrings subject to the change-window rule.
var gatedActions = []string{"deploy", "release", "infra_apply"}

// Result is the outcome of a precheck. A denial is a normal result, not an error.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate applies change-window and approval rules to incoming events.
type Gate struct {
	policies *Holder
	now      func() time.Time
}

func NewGate(policies *Holder) *Gate {
	return &Gate{policies: policies, now: time.Now}
}

// WithClock replaces the wall clock used when an event declares no instant.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Precheck evaluates evt. Rules apply in order and the first failure wins.
func (g *Gate) Precheck(evt types.Event) Result {
	p := g.policies.Current().Policy

	env := evt.Str("environment")
	if env == "" {
		env = DefaultEnvironment
	}
	action := evt.Str("action")

	if env == ProdEnvironment && isGatedAction(action) {
		if IsWithinDisallowedWindow(p.ChangeWindows, env, g.referenceInstant(evt)) {
			return Result{Allowed: false, Reason: ReasonChangeWindowClosed}
		}
	}

	if env == ProdEnvironment {
		if thresholds, ok := p.Approvals[ProdEnvironment]; ok {
			required := RequiredApprovals(thresholds, evt.Str("risk"))
			have := approvalsCount(evt)
			if have < int64(required) {
				return Result{
					Allowed: false,
					Reason:  fmt.Sprintf("Insufficient approvals: required %d, have %d", required, have),
				}
			}
		}
	}

	return Result{Allowed: true}
}

// RequiredApprovals picks the threshold for a risk tier. Unknown tiers use low_risk.
func RequiredApprovals(t ApprovalThresholds, risk string) int {
	switch risk {
	case "high":
		return t.HighRisk
	case "medium":
		return t.MediumRisk
	default:
		return t.LowRisk
	}
}

func isGatedAction(action string) bool {
	for _, kind := range gatedActions {
		if strings.Contains(action, kind) {
			return true
		}
	}
	return false
}

// approvalsCount reads approvals_count; negative or non-integral values count as zero.
func approvalsCount(evt types.Event) int64 {
	n, ok := evt.Int("approvals_count")
	if !ok || n < 0 {
		return 0
	}
	return n
}

// referenceInstant is the event's declared nowIso, or the wall clock when it
// is absent or unparseable.
func (g *Gate) referenceInstant(evt types.Event) time.Time {
	if raw := evt.Str("nowIso"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	return g.now()
}

// ApprovalSnapshot is the approval state recorded on a run.
type ApprovalSnapshot struct {
	Count    int64 `json:"count"`
	Required *int  `json:"required,omitempty"`
}

// Approvals reports the event's approval count and, for prod events under an
// approval policy, the count its risk tier requires.
func (g *Gate) Approvals(evt types.Event) ApprovalSnapshot {
	snap := ApprovalSnapshot{Count: approvalsCount(evt)}
	if evt.Str("environment") != ProdEnvironment {
		return snap
	}
	if thresholds, ok := g.policies.Current().Policy.Approvals[ProdEnvironment]; ok {
		required := RequiredApprovals(thresholds, evt.Str("risk"))
		snap.Required = &required
	}
	return snap
}
