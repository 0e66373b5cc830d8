package planner

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/juanpasaflipz/agentic-devops/internal/router"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

type stage struct {
	env       string
	windowMin int
	replicas  int // 0 keeps the current scale
}

var rolloutStages = []stage{
	{env: "staging", windowMin: 10},
	{env: "canary", windowMin: 20, replicas: 1},
	{env: "prod", windowMin: 10},
}

// deploy rolls the image through staging, canary and prod. A stage whose
// deploy or health check fails is rolled back and later stages are skipped.
func (p *Planner) deploy(ctx context.Context, evt types.Event, runID *int64) (Plan, error) {
	service := evt.Str("service")
	image := evt.Str("image")
	thresholds := map[string]any{}
	for k, v := range p.policies.Current().Policy.RolloutThresholds().Map() {
		thresholds[k] = v
	}

	steps := []string{}
	for _, st := range rolloutStages {
		steps = append(steps, "deploy:"+st.env)
		params := types.Fields{"environment": st.env, "service": service, "image": image}
		if st.replicas > 0 {
			params["replicas"] = st.replicas
		}
		healthy := p.stageOK(ctx, router.K8sDeploy, params, runID)

		if healthy {
			steps = append(steps, "metrics:"+st.env)
			healthy = p.stageOK(ctx, router.MetricsCheck, types.Fields{
				"service":    service,
				"window_min": st.windowMin,
				"thresholds": thresholds,
			}, runID)
		}

		if !healthy {
			steps = append(steps, "rollback:"+st.env)
			if _, err := p.invoker.Invoke(ctx, string(router.K8sRollback), types.Fields{"environment": st.env, "service": service}, runID); err != nil {
				log.Error().Err(err).Str("service", service).Str("stage", st.env).Msg("rollback failed")
			}
			return Plan{Summary: "Deployment failed: " + joinSteps(steps), Steps: steps}, nil
		}
	}
	return Plan{OK: true, Summary: "Deployment succeeded", Steps: steps}, nil
}

// stageOK treats both soft failures and propagated errors as unhealthy so
// the stage is always rolled back.
func (p *Planner) stageOK(ctx context.Context, kind router.ToolKind, params types.Fields, runID *int64) bool {
	res, err := p.invoker.Invoke(ctx, string(kind), params, runID)
	if err != nil {
		log.Warn().Err(err).Str("tool", string(kind)).Msg("rollout stage failed")
		return false
	}
	return res["ok"] != false
}
