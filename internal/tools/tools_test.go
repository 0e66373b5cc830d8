package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/juanpasaflipz/agentic-devops/internal/config"
	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
	"github.com/juanpasaflipz/agentic-devops/internal/router"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

func TestRegisterCoversEveryKind(t *testing.T) {
	handlers := Register(Deps{})
	for _, k := range router.AllKinds {
		assert.NotNil(t, handlers[k], "missing handler for %s", k)
	}
	_, err := router.New(handlers, router.Options{Ledger: ledger.NewInMemoryStore()})
	require.NoError(t, err)
}

func TestUnconfiguredAdaptersSucceed(t *testing.T) {
	ctx := context.Background()
	h := Register(Deps{Now: func() time.Time { return time.Unix(0, 0) }})

	cases := []struct {
		kind   router.ToolKind
		params types.Fields
	}{
		{router.GitCommentPR, types.Fields{"repo": "acme/api", "pr": 7, "body": "hi"}},
		{router.Notify, types.Fields{"channel": "#ops", "message": "hi"}},
		{router.MetricsCheck, types.Fields{"service": "api", "window_min": 10}},
		{router.K8sDeploy, types.Fields{"environment": "staging", "service": "api", "image": "api:1"}},
		{router.K8sRollback, types.Fields{"environment": "prod", "service": "api"}},
		{router.CIRun, types.Fields{"pipeline": "test", "ref": "main", "repo": "acme/api"}},
		{router.TerraformApply, types.Fields{"plan_id": "abc"}},
		{router.ObjectUpload, types.Fields{"bucket": "b", "object": "o", "data": "x"}},
	}
	for _, tc := range cases {
		out, err := h[tc.kind].Handle(ctx, tc.params)
		require.NoError(t, err, tc.kind)
		assert.Equal(t, true, out["ok"], tc.kind)
	}

	out, err := h[router.SecretsGet].Handle(ctx, types.Fields{"path": "db", "key": "password"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGitHubCommentPR(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	gh := &GitHub{Token: "ghp_live", BaseURL: srv.URL, Client: srv.Client()}
	out, err := gh.CommentPR(context.Background(), types.Fields{"repo": "acme/api", "pr": float64(42), "body": "CI test result: success"})
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "/repos/acme/api/issues/42/comments", gotPath)
	assert.Equal(t, "Bearer ghp_live", gotAuth)
	assert.Equal(t, "CI test result: success", gotBody["body"])

	_, err = gh.CommentPR(context.Background(), types.Fields{"repo": "noslash", "pr": 1})
	assert.Error(t, err)
}

func TestGitHubPlaceholderTokenIsDryRun(t *testing.T) {
	gh := &GitHub{Token: "your_github_token_here"}
	out, err := gh.CommentPR(context.Background(), types.Fields{"repo": "acme/api", "pr": 1})
	require.NoError(t, err)
	assert.Equal(t, true, out["dry_run"])
}

type capturePoster struct {
	texts []string
	err   error
}

func (p *capturePoster) Post(_ context.Context, text string) error {
	p.texts = append(p.texts, text)
	return p.err
}

func TestNotifierFormatsSeverity(t *testing.T) {
	p := &capturePoster{}
	n := &Notifier{Poster: p}
	_, err := n.Send(context.Background(), types.Fields{"channel": "#ops", "severity": "critical", "message": "down"})
	require.NoError(t, err)
	assert.Equal(t, []string{"[CRITICAL] down"}, p.texts)

	p.err = errors.New("webhook 500")
	_, err = n.Send(context.Background(), types.Fields{"message": "x"})
	assert.Error(t, err)

	_, err = n.Send(context.Background(), types.Fields{})
	assert.Error(t, err)
}

func TestMetricsCheckReportsBreaches(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		queries = append(queries, q)
		value := "0.1"
		if strings.Contains(q, "latency") {
			value = "450"
		}
		if strings.Contains(q, "cpu") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1717243200,"` + value + `"]}]}}`))
	}))
	defer srv.Close()

	m := &Metrics{
		URL: srv.URL,
		Queries: map[string]string{
			"latency_p95_ms":     `latency{service="{{service}}"}[{{window_min}}m]`,
			"error_rate_pct":     `errors{service="{{service}}"}`,
			"cpu_saturation_pct": `cpu{service="{{service}}"}`,
		},
		Client: srv.Client(),
	}
	out, err := m.Check(context.Background(), types.Fields{
		"service":    "checkout",
		"window_min": 10,
		"thresholds": map[string]any{"latency_p95_ms": 300.0, "error_rate_pct": 0.5, "cpu_saturation_pct": 85.0},
	})
	require.NoError(t, err)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, []string{"latency_p95_ms"}, out["breaching"])
	assert.Contains(t, queries, `latency{service="checkout"}[10m]`)
}

func TestSecretsReadsFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "db"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db", "password"), []byte("hunter2\n"), 0o600))

	s := &Secrets{Dir: dir}
	out, err := s.Get(context.Background(), types.Fields{"path": "db", "key": "password"})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out["value"])

	out, err = s.Get(context.Background(), types.Fields{"path": "db", "key": "missing"})
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = s.Get(context.Background(), types.Fields{"path": "../..", "key": "etc"})
	assert.Error(t, err)
}

func deployment(ns, name, image string, replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": name}},
				Spec: corev1.PodSpec{Containers: []corev1.Container{
					{Name: "sidecar", Image: "envoy:1"},
					{Name: name, Image: image},
				}},
			},
		},
	}
}

func replicaSet(ns, owner, revision, image string) *appsv1.ReplicaSet {
	return &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:            owner + "-" + revision,
			Namespace:       ns,
			Labels:          map[string]string{"app": owner},
			Annotations:     map[string]string{revisionAnnotation: revision},
			OwnerReferences: []metav1.OwnerReference{{Kind: "Deployment", Name: owner}},
		},
		Spec: appsv1.ReplicaSetSpec{
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{
					"app":                                  owner,
					appsv1.DefaultDeploymentUniqueLabelKey: "hash-" + revision,
				}},
				Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: owner, Image: image}}},
			},
		},
	}
}

func TestKubernetesDeployUpdatesExistingDeployment(t *testing.T) {
	ctx := context.Background()
	cs := fake.NewSimpleClientset(deployment("api-canary", "api", "api:1", 3))
	k := &Kubernetes{Client: cs, Namespaces: map[string]string{"canary": "api-canary"}}

	out, err := k.Deploy(ctx, types.Fields{"environment": "canary", "service": "api", "image": "api:2", "replicas": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, "api-canary", out["namespace"])
	assert.Equal(t, false, out["created"])

	got, err := cs.AppsV1().Deployments("api-canary").Get(ctx, "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *got.Spec.Replicas)
	assert.Equal(t, "envoy:1", got.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, "api:2", got.Spec.Template.Spec.Containers[1].Image)

	_, err = k.Deploy(ctx, types.Fields{"environment": "qa", "service": "api", "image": "x"})
	assert.Error(t, err)
}

func TestKubernetesDeployCreatesMissingDeployment(t *testing.T) {
	ctx := context.Background()
	cs := fake.NewSimpleClientset()
	k := &Kubernetes{Client: cs}

	out, err := k.Deploy(ctx, types.Fields{"environment": "staging", "service": "worker", "image": "worker:7"})
	require.NoError(t, err)
	assert.Equal(t, true, out["created"])

	got, err := cs.AppsV1().Deployments("staging").Get(ctx, "worker", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *got.Spec.Replicas)
	assert.Equal(t, map[string]string{"app": "worker"}, got.Spec.Selector.MatchLabels)
	assert.Equal(t, "worker:7", got.Spec.Template.Spec.Containers[0].Image)
}

func TestKubernetesRollbackRestoresPreviousRevision(t *testing.T) {
	ctx := context.Background()
	cs := fake.NewSimpleClientset(
		deployment("prod", "api", "api:3", 4),
		replicaSet("prod", "api", "1", "api:1"),
		replicaSet("prod", "api", "3", "api:3"),
		replicaSet("prod", "api", "2", "api:2"),
		replicaSet("prod", "web", "5", "web:5"),
	)
	k := &Kubernetes{Client: cs}

	out, err := k.Rollback(ctx, types.Fields{"environment": "prod", "service": "api"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out["revision"])

	got, err := cs.AppsV1().Deployments("prod").Get(ctx, "api", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, got.Spec.Template.Spec.Containers, 1)
	assert.Equal(t, "api:2", got.Spec.Template.Spec.Containers[0].Image)
	assert.NotContains(t, got.Spec.Template.Labels, appsv1.DefaultDeploymentUniqueLabelKey)
	assert.Equal(t, int32(4), *got.Spec.Replicas)
}

func TestKubernetesRollbackWithoutHistoryFails(t *testing.T) {
	ctx := context.Background()
	k := &Kubernetes{Client: fake.NewSimpleClientset(
		deployment("prod", "api", "api:1", 2),
		replicaSet("prod", "api", "1", "api:1"),
	)}
	_, err := k.Rollback(ctx, types.Fields{"environment": "prod", "service": "api"})
	assert.ErrorContains(t, err, "no previous revision")

	_, err = k.Rollback(ctx, types.Fields{"environment": "prod", "service": "missing"})
	assert.Error(t, err)
}

func TestKubernetesDryRunWithoutCluster(t *testing.T) {
	rc, err := ResolveRESTConfig(config.K8sConfig{})
	require.NoError(t, err)
	assert.Nil(t, rc)

	_, err = ResolveRESTConfig(config.K8sConfig{Enabled: true, Kubeconfig: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	k := &Kubernetes{}
	out, err := k.Rollback(context.Background(), types.Fields{"environment": "dev", "service": "api"})
	require.NoError(t, err)
	assert.Equal(t, true, out["dry_run"])
}

func TestCIRunPostsPipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pipelines", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":false,"url":"https://ci.example.test/jobs/9"}`))
	}))
	defer srv.Close()

	ci := &CI{BaseURL: srv.URL, Client: srv.Client()}
	out, err := ci.Run(context.Background(), types.Fields{"pipeline": "sast", "ref": "main", "repo": "acme/api"})
	require.NoError(t, err)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, "https://ci.example.test/jobs/9", out["url"])

	_, err = ci.Run(context.Background(), types.Fields{"pipeline": "lint"})
	assert.Error(t, err)
}

func TestTerraformPlanUsesConfiguredCost(t *testing.T) {
	cost := 12.5
	tf := &Terraform{MockCostPct: &cost, Now: func() time.Time { return time.Unix(1717243200, 0) }}
	out, err := tf.Plan(context.Background(), types.Fields{"workspace": "prod", "dir": "infra/"})
	require.NoError(t, err)
	assert.Equal(t, 12.5, out["cost_drift_pct"])
	assert.Len(t, out["plan_id"], 12)

	again, _ := tf.Plan(context.Background(), types.Fields{"workspace": "prod", "dir": "infra/"})
	assert.Equal(t, out["plan_id"], again["plan_id"])

	tf.MockCostPct = nil
	out, _ = tf.Plan(context.Background(), types.Fields{"workspace": "prod", "dir": "infra/"})
	assert.Equal(t, 5.0, out["cost_drift_pct"])

	_, err = tf.Apply(context.Background(), types.Fields{})
	assert.Error(t, err)
}

func TestStorageUploadWritesFile(t *testing.T) {
	dir := t.TempDir()
	s := &Storage{Dir: dir}
	out, err := s.Upload(context.Background(), types.Fields{"bucket": "reports", "object": "run-1.json", "data": "{}"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out["url"].(string), "file://"))

	data, err := os.ReadFile(filepath.Join(dir, "reports", "run-1.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestRegisterWiresConfiguredCollaborators(t *testing.T) {
	cost := 20.0
	h := Register(Deps{Config: config.ToolsConfig{Terraform: config.TerraformConfig{MockCostPct: &cost}}, Now: time.Now})
	out, err := h[router.TerraformPlan].Handle(context.Background(), types.Fields{"workspace": "w", "dir": "d"})
	require.NoError(t, err)
	assert.Equal(t, 20.0, out["cost_drift_pct"])
}
