// Package tools implements the collaborator adapters behind each router tool
// kind. An adapter without configuration succeeds without side effects so a
// development gateway can run every plan end to end.
package tools

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"k8s.io/client-go/kubernetes"

	"github.com/juanpasaflipz/agentic-devops/internal/config"
	"github.com/juanpasaflipz/agentic-devops/internal/router"
	"github.com/juanpasaflipz/agentic-devops/internal/slack"
)

type Deps struct {
	Config config.ToolsConfig
	HTTP   *http.Client
	Poster slack.Poster
	// Kube overrides the clientset built from Config.K8s.
	Kube kubernetes.Interface
	Now  func() time.Time
}

// Register builds a handler for every router tool kind.
func Register(deps Deps) map[router.ToolKind]router.Handler {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	if deps.Poster == nil && !slack.IsPlaceholderWebhook(deps.Config.Slack.WebhookURL) {
		deps.Poster = slack.NewWebhookPoster(deps.Config.Slack.WebhookURL)
	}
	if deps.Kube == nil {
		deps.Kube = kubeClient(deps.Config.K8s)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	gh := &GitHub{Token: deps.Config.GitHub.Token, BaseURL: deps.Config.GitHub.BaseURL, Client: deps.HTTP}
	notify := &Notifier{Poster: deps.Poster}
	metrics := &Metrics{URL: deps.Config.Metrics.PrometheusURL, Queries: deps.Config.Metrics.Queries, Client: deps.HTTP}
	secrets := &Secrets{Dir: deps.Config.Secrets.Dir}
	k8s := &Kubernetes{Client: deps.Kube, Namespaces: deps.Config.K8s.Namespaces}
	ci := &CI{BaseURL: deps.Config.CI.BaseURL, Token: deps.Config.CI.Token, Client: deps.HTTP}
	tf := &Terraform{MockCostPct: deps.Config.Terraform.MockCostPct, Now: deps.Now}
	storage := &Storage{Dir: deps.Config.Storage.Dir}

	return map[router.ToolKind]router.Handler{
		router.GitCommentPR:   router.HandlerFunc(gh.CommentPR),
		router.Notify:         router.HandlerFunc(notify.Send),
		router.MetricsCheck:   router.HandlerFunc(metrics.Check),
		router.SecretsGet:     router.HandlerFunc(secrets.Get),
		router.K8sDeploy:      router.HandlerFunc(k8s.Deploy),
		router.K8sRollback:    router.HandlerFunc(k8s.Rollback),
		router.CIRun:          router.HandlerFunc(ci.Run),
		router.TerraformPlan:  router.HandlerFunc(tf.Plan),
		router.TerraformApply: router.HandlerFunc(tf.Apply),
		router.ObjectUpload:   router.HandlerFunc(storage.Upload),
	}
}

// kubeClient returns nil, so deploys dry-run, when the cluster cannot be
// resolved.
func kubeClient(cfg config.K8sConfig) kubernetes.Interface {
	rc, err := ResolveRESTConfig(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("kubernetes unavailable; deploys will dry-run")
		return nil
	}
	if rc == nil {
		return nil
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		log.Warn().Err(err).Msg("kubernetes client; deploys will dry-run")
		return nil
	}
	return cs
}
