package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"k8s.io/client-go/util/retry"

	"github.com/juanpasaflipz/agentic-devops/internal/config"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

const revisionAnnotation = "deployment.kubernetes.io/revision"

// Kubernetes drives Deployments through the apps/v1 API. A nil Client makes
// every call a dry run.
type Kubernetes struct {
	Client     kubernetes.Interface
	Namespaces map[string]string
}

// ResolveRESTConfig finds cluster credentials in order: the configured
// kubeconfig, $KUBECONFIG, the in-cluster service account, ~/.kube/config.
// It returns nil without error when the adapter is not enabled.
func ResolveRESTConfig(cfg config.K8sConfig) (*rest.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Kubeconfig != "" {
		rc, err := clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("kubeconfig %s: %w", cfg.Kubeconfig, err)
		}
		return rc, nil
	}
	if env := os.Getenv("KUBECONFIG"); env != "" {
		if rc, err := clientcmd.BuildConfigFromFlags("", env); err == nil {
			return rc, nil
		}
	}
	if rc, err := rest.InClusterConfig(); err == nil {
		return rc, nil
	}
	if home := homedir.HomeDir(); home != "" {
		path := filepath.Join(home, ".kube", "config")
		if _, err := os.Stat(path); err == nil {
			if rc, err := clientcmd.BuildConfigFromFlags("", path); err == nil {
				return rc, nil
			}
		}
	}
	return nil, fmt.Errorf("unable to locate Kubernetes configuration; set tools.k8s.kubeconfig or KUBECONFIG")
}

var validEnvironments = map[string]bool{"dev": true, "staging": true, "canary": true, "prod": true}

func (k *Kubernetes) namespace(env string) string {
	if ns := k.Namespaces[env]; ns != "" {
		return ns
	}
	return env
}

func deployTarget(params types.Fields) (env, service string, err error) {
	env = params.Str("environment")
	service = params.Str("service")
	if !validEnvironments[env] {
		return "", "", fmt.Errorf("unsupported environment %q", env)
	}
	if service == "" {
		return "", "", fmt.Errorf("service is required")
	}
	return env, service, nil
}

// Deploy points the service's Deployment at image, creating a minimal one
// when none exists. replicas, when given, replaces the current count.
func (k *Kubernetes) Deploy(ctx context.Context, params types.Fields) (types.Fields, error) {
	env, service, err := deployTarget(params)
	if err != nil {
		return nil, err
	}
	image := params.Str("image")
	if image == "" {
		return nil, fmt.Errorf("image is required")
	}
	if k.Client == nil {
		return types.Fields{"ok": true, "dry_run": true}, nil
	}

	ns := k.namespace(env)
	var replicas *int32
	if n, ok := params.Int("replicas"); ok {
		r := int32(n)
		replicas = &r
	}

	api := k.Client.AppsV1().Deployments(ns)
	created := false
	err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
		current, err := api.Get(ctx, service, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			_, err = api.Create(ctx, newDeployment(ns, service, image, replicas), metav1.CreateOptions{})
			created = err == nil
			return err
		}
		if err != nil {
			return err
		}
		setImage(current, service, image)
		if replicas != nil {
			current.Spec.Replicas = replicas
		}
		_, err = api.Update(ctx, current, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deploy %s/%s: %w", ns, service, err)
	}
	return types.Fields{"ok": true, "namespace": ns, "created": created}, nil
}

func newDeployment(ns, name, image string, replicas *int32) *appsv1.Deployment {
	if replicas == nil {
		one := int32(1)
		replicas = &one
	}
	lbls := map[string]string{"app": name}
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: lbls},
		Spec: appsv1.DeploymentSpec{
			Replicas: replicas,
			Selector: &metav1.LabelSelector{MatchLabels: lbls},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: lbls},
				Spec: corev1.PodSpec{Containers: []corev1.Container{{
					Name:  name,
					Image: image,
					Ports: []corev1.ContainerPort{{ContainerPort: 8080}},
				}}},
			},
		},
	}
}

// setImage updates the container named after the service, or the first
// container when none matches.
func setImage(d *appsv1.Deployment, service, image string) {
	containers := d.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		d.Spec.Template.Spec.Containers = []corev1.Container{{Name: service, Image: image}}
		return
	}
	for i := range containers {
		if containers[i].Name == service {
			containers[i].Image = image
			return
		}
	}
	containers[0].Image = image
}

// Rollback restores the pod template of the Deployment's previous revision,
// read from the ReplicaSets it owns.
func (k *Kubernetes) Rollback(ctx context.Context, params types.Fields) (types.Fields, error) {
	env, service, err := deployTarget(params)
	if err != nil {
		return nil, err
	}
	if k.Client == nil {
		return types.Fields{"ok": true, "dry_run": true}, nil
	}

	ns := k.namespace(env)
	api := k.Client.AppsV1().Deployments(ns)
	var revision int64
	err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
		current, err := api.Get(ctx, service, metav1.GetOptions{})
		if err != nil {
			return err
		}
		previous, err := k.previousRevision(ctx, current)
		if err != nil {
			return err
		}
		revision = replicaSetRevision(previous)
		template := *previous.Spec.Template.DeepCopy()
		delete(template.Labels, appsv1.DefaultDeploymentUniqueLabelKey)
		current.Spec.Template = template
		_, err = api.Update(ctx, current, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rollback %s/%s: %w", ns, service, err)
	}
	return types.Fields{"ok": true, "namespace": ns, "revision": revision}, nil
}

func (k *Kubernetes) previousRevision(ctx context.Context, d *appsv1.Deployment) (*appsv1.ReplicaSet, error) {
	selector := labels.Everything()
	if d.Spec.Selector != nil {
		s, err := metav1.LabelSelectorAsSelector(d.Spec.Selector)
		if err != nil {
			return nil, err
		}
		selector = s
	}
	list, err := k.Client.AppsV1().ReplicaSets(d.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, err
	}

	var owned []*appsv1.ReplicaSet
	for i := range list.Items {
		rs := &list.Items[i]
		if ownedBy(rs, d) {
			owned = append(owned, rs)
		}
	}
	if len(owned) < 2 {
		return nil, fmt.Errorf("no previous revision for deployment %s", d.Name)
	}
	sort.Slice(owned, func(i, j int) bool {
		return replicaSetRevision(owned[i]) > replicaSetRevision(owned[j])
	})
	return owned[1], nil
}

func ownedBy(rs *appsv1.ReplicaSet, d *appsv1.Deployment) bool {
	for _, ref := range rs.OwnerReferences {
		if ref.Kind != "Deployment" || ref.Name != d.Name {
			continue
		}
		if d.UID == "" || ref.UID == d.UID {
			return true
		}
	}
	return false
}

func replicaSetRevision(rs *appsv1.ReplicaSet) int64 {
	n, _ := strconv.ParseInt(rs.Annotations[revisionAnnotation], 10, 64)
	return n
}
