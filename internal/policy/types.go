package policy

// Policy is the organizational policy document. Every section is optional;
// the zero value configures no gates.
type Policy struct {
	ChangeWindows map[string]ChangeWindowSet    `yaml:"change_windows" json:"change_windows,omitempty"`
	Approvals     map[string]ApprovalThresholds `yaml:"approvals" json:"approvals,omitempty"`
	SLOGates      map[string]SLOThresholds      `yaml:"slo_gates" json:"slo_gates,omitempty"`
	Security      *SecurityPolicy               `yaml:"security" json:"security,omitempty"`
	Canary        *CanaryPolicy                 `yaml:"canary" json:"canary,omitempty"`
	Cost          *CostPolicy                   `yaml:"cost" json:"cost,omitempty"`
	Redaction     *RedactionPolicy              `yaml:"redaction" json:"redaction,omitempty"`
}

type ChangeWindowSet struct {
	Disallow []Window `yaml:"disallow" json:"disallow"`
}

// Window is a weekly recurring interval. From and To are "<weekday> <HH:MM>"
// labels, e.g. "Fri 22:00"; TZ is an IANA zone name (UTC when empty).
type Window struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	TZ   string `yaml:"tz" json:"tz"`
}

type ApprovalThresholds struct {
	LowRisk    int `yaml:"low_risk" json:"low_risk"`
	MediumRisk int `yaml:"medium_risk" json:"medium_risk"`
	HighRisk   int `yaml:"high_risk" json:"high_risk"`
}

type SLOThresholds struct {
	LatencyP95Ms     float64 `yaml:"latency_p95_ms" json:"latency_p95_ms"`
	ErrorRatePct     float64 `yaml:"error_rate_pct" json:"error_rate_pct"`
	CPUSaturationPct float64 `yaml:"cpu_saturation_pct" json:"cpu_saturation_pct"`
}

// Map returns the thresholds keyed by metric name, the shape metrics_check takes.
func (s SLOThresholds) Map() map[string]float64 {
	return map[string]float64{
		"latency_p95_ms":     s.LatencyP95Ms,
		"error_rate_pct":     s.ErrorRatePct,
		"cpu_saturation_pct": s.CPUSaturationPct,
	}
}

type SecurityPolicy struct {
	MinCVSS            float64 `yaml:"min_cvss" json:"min_cvss"`
	BlockOnSecretsLeak bool    `yaml:"block_on_secrets_leak" json:"block_on_secrets_leak"`
}

type CanaryPolicy struct {
	MaxPercent int `yaml:"max_percent" json:"max_percent"`
	WindowMin  int `yaml:"window_min" json:"window_min"`
}

type CostPolicy struct {
	MonthlyDriftPctMax *float64 `yaml:"monthly_drift_pct_max" json:"monthly_drift_pct_max,omitempty"`
}

type RedactionPolicy struct {
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// DefaultMaxCostDriftPct applies when the policy sets no cost limit.
const DefaultMaxCostDriftPct = 10.0

// DefaultSLOThresholds gate rollouts when the policy has no "default" SLO gate.
var DefaultSLOThresholds = SLOThresholds{
	LatencyP95Ms:     300,
	ErrorRatePct:     0.5,
	CPUSaturationPct: 85,
}

// MaxCostDriftPct returns the configured monthly drift limit.
func (p Policy) MaxCostDriftPct() float64 {
	if p.Cost == nil || p.Cost.MonthlyDriftPctMax == nil {
		return DefaultMaxCostDriftPct
	}
	return *p.Cost.MonthlyDriftPctMax
}

// RolloutThresholds returns the "default" SLO gate, or DefaultSLOThresholds.
func (p Policy) RolloutThresholds() SLOThresholds {
	if gate, ok := p.SLOGates["default"]; ok {
		return gate
	}
	return DefaultSLOThresholds
}

// RedactionPatterns returns the extra patterns configured by the policy.
func (p Policy) RedactionPatterns() []string {
	if p.Redaction == nil {
		return nil
	}
	return p.Redaction.Patterns
}
