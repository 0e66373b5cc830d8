package router

// ToolKind names a tool the router can dispatch. The set is closed.
type ToolKind string

const (
	GitCommentPR   ToolKind = "git_comment_pr"
	Notify         ToolKind = "notify"
	MetricsCheck   ToolKind = "metrics_check"
	SecretsGet     ToolKind = "secrets_get"
	K8sDeploy      ToolKind = "k8s_deploy"
	K8sRollback    ToolKind = "k8s_rollback"
	CIRun          ToolKind = "ci_run"
	TerraformPlan  ToolKind = "terraform_plan"
	TerraformApply ToolKind = "terraform_apply"
	ObjectUpload   ToolKind = "object_upload"
)

// AllKinds lists every tool in registry order.
var AllKinds = []ToolKind{
	GitCommentPR,
	Notify,
	MetricsCheck,
	SecretsGet,
	K8sDeploy,
	K8sRollback,
	CIRun,
	TerraformPlan,
	TerraformApply,
	ObjectUpload,
}

// ParseKind maps a runtime name onto a known kind.
func ParseKind(name string) (ToolKind, bool) {
	for _, k := range AllKinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}
