// Package planner maps an event onto a fixed procedure and drives it
// through the tool router.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/juanpasaflipz/agentic-devops/internal/policy"
	"github.com/juanpasaflipz/agentic-devops/internal/router"
	"github.com/juanpasaflipz/agentic-devops/internal/runbook"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

type Branch string

const (
	BranchDeploy   Branch = "deploy"
	BranchCI       Branch = "ci"
	BranchIncident Branch = "incident"
	BranchInfra    Branch = "infra_plan_apply"
	BranchNoop     Branch = "noop"
)

const (
	OpsChannel         = "#ops"
	DefaultSeverity    = "high"
	DefaultIncidentEnv = "prod"
	SummaryNoAction    = "No action taken."
)

// Plan is the outcome of one procedure. Blocked is set when a policy limit
// stopped the procedure before it acted.
type Plan struct {
	Branch  Branch            `json:"branch"`
	Summary string            `json:"summary"`
	OK      bool              `json:"ok"`
	Blocked bool              `json:"blocked,omitempty"`
	Steps   []string          `json:"steps,omitempty"`
	Runbook *runbook.Result   `json:"runbook,omitempty"`
	Links   map[string]string `json:"links,omitempty"`
}

type Planner struct {
	policies *policy.Holder
	invoker  router.Invoker
	runbooks *runbook.Interpreter
}

func New(policies *policy.Holder, invoker router.Invoker, runbooks *runbook.Interpreter) *Planner {
	return &Planner{policies: policies, invoker: invoker, runbooks: runbooks}
}

type rule struct {
	branch   Branch
	action   string
	required []string
	run      func(p *Planner, ctx context.Context, evt types.Event, runID *int64) (Plan, error)
}

// rules are mutually exclusive: each needs its own action literal.
var rules = []rule{
	{BranchDeploy, "deploy", []string{"service", "image"}, (*Planner).deploy},
	{BranchCI, "ci", []string{"repo", "ref", "pipeline"}, (*Planner).ci},
	{BranchIncident, "incident", []string{"service", "metric"}, (*Planner).incident},
	{BranchInfra, "infra_plan_apply", []string{"workspace", "dir"}, (*Planner).infra},
}

func (r rule) matches(evt types.Event) bool {
	if evt.Str("action") != r.action {
		return false
	}
	for _, f := range r.required {
		if !evt.Present(f) {
			return false
		}
	}
	return true
}

// Plan runs the first procedure whose shape matches evt. Errors are
// router errors that the runtime mode chose to propagate.
func (p *Planner) Plan(ctx context.Context, evt types.Event, runID *int64) (Plan, error) {
	for _, r := range rules {
		if r.matches(evt) {
			plan, err := r.run(p, ctx, evt, runID)
			plan.Branch = r.branch
			return plan, err
		}
	}
	return Plan{Branch: BranchNoop, Summary: SummaryNoAction, OK: true}, nil
}

func (p *Planner) ci(ctx context.Context, evt types.Event, runID *int64) (Plan, error) {
	pipeline := evt.Str("pipeline")
	res, err := p.invoker.Invoke(ctx, string(router.CIRun), types.Fields{
		"pipeline": evt["pipeline"],
		"ref":      evt["ref"],
		"repo":     evt["repo"],
	}, runID)
	if err != nil {
		return Plan{}, err
	}
	ok := res.Bool("ok")
	plan := Plan{OK: ok}
	url := res.Str("url")
	if url != "" {
		plan.Links = map[string]string{"ci": url}
	}

	if pr := evt.Map("pr"); pr.Present("number") {
		outcome := "failure"
		if ok {
			outcome = "success"
		}
		body := fmt.Sprintf("CI %s result: %s", pipeline, outcome)
		if url != "" {
			body += " - " + url
		}
		if _, err := p.invoker.Invoke(ctx, string(router.GitCommentPR), types.Fields{
			"repo": evt["repo"],
			"pr":   pr["number"],
			"body": body,
		}, runID); err != nil {
			return Plan{}, err
		}
	}

	if ok {
		plan.Summary = fmt.Sprintf("CI %s succeeded", pipeline)
	} else {
		plan.Summary = fmt.Sprintf("CI %s failed", pipeline)
	}
	return plan, nil
}

func (p *Planner) incident(ctx context.Context, evt types.Event, runID *int64) (Plan, error) {
	severity := evt.Str("severity")
	if severity == "" {
		severity = DefaultSeverity
	}
	env := evt.Str("env")
	if env == "" {
		env = DefaultIncidentEnv
	}
	incident := types.Fields{
		"service":  evt.Str("service"),
		"env":      env,
		"metric":   evt.Str("metric"),
		"severity": severity,
	}

	var (
		res    runbook.Result
		runErr error
	)
	if p.runbooks == nil {
		runErr = runbook.ErrNoRunbooks
	} else {
		res, runErr = p.runbooks.Run(ctx, incident, runID)
	}
	handled := runErr == nil && res.OK

	notifySeverity := "error"
	message := fmt.Sprintf("Incident handled: %s for %s (%s). Runbook=%s", incident["metric"], incident["service"], severity, res.Runbook)
	if !handled {
		notifySeverity = "critical"
		message = fmt.Sprintf("Incident handling failed: %s for %s", incident["metric"], incident["service"])
	}
	if _, err := p.invoker.Invoke(ctx, string(router.Notify), types.Fields{
		"channel":  OpsChannel,
		"severity": notifySeverity,
		"message":  message,
	}, runID); err != nil {
		return Plan{}, err
	}

	if !handled {
		summary := "Incident handling failed"
		if runErr != nil {
			summary += ": " + runErr.Error()
		}
		return Plan{Summary: summary}, nil
	}
	return Plan{OK: true, Summary: "Incident handled via " + res.Runbook, Runbook: &res}, nil
}

func (p *Planner) infra(ctx context.Context, evt types.Event, runID *int64) (Plan, error) {
	planRes, err := p.invoker.Invoke(ctx, string(router.TerraformPlan), types.Fields{
		"workspace": evt["workspace"],
		"dir":       evt["dir"],
	}, runID)
	if err != nil {
		return Plan{}, err
	}
	if planRes["ok"] == false {
		return Plan{Summary: "Infra plan failed: " + planRes.Str("error")}, nil
	}

	planID := planRes.Str("plan_id")
	maxPct := p.policies.Current().Policy.MaxCostDriftPct()
	if drift, ok := planRes.Float("cost_drift_pct"); ok && drift > maxPct {
		return Plan{
			Blocked: true,
			Summary: fmt.Sprintf("Infra plan blocked: cost drift %s%% > max %s%%", types.Stringify(drift), types.Stringify(maxPct)),
		}, nil
	}

	applyRes, err := p.invoker.Invoke(ctx, string(router.TerraformApply), types.Fields{
		"workspace": evt["workspace"],
		"dir":       evt["dir"],
		"plan_id":   planID,
	}, runID)
	if err != nil {
		return Plan{}, err
	}
	if applyRes["ok"] == false {
		return Plan{Summary: fmt.Sprintf("Infra apply failed (plan_id=%s): %s", planID, applyRes.Str("error"))}, nil
	}
	return Plan{OK: true, Summary: fmt.Sprintf("Infra applied (plan_id=%s)", planID)}, nil
}

func joinSteps(steps []string) string {
	return strings.Join(steps, " -> ")
}
