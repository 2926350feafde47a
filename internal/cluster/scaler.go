package cluster

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/util/retry"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

const (
	// FluxReconcileAnnotation pauses the Flux kustomize-controller on a
	// Deployment while it is parked at zero.
	FluxReconcileAnnotation = "kustomize.toolkit.fluxcd.io/reconcile"
	FluxReconcileValue      = "disabled"

	// FieldManager owns spec.replicas when Argo CD suppression is on. Argo CD
	// has no per-resource switch for self-heal; the Application must ignore
	// this manager:
	//
	//	ignoreDifferences:
	//	- group: apps
	//	  kind: Deployment
	//	  managedFieldsManagers: [kubex-hibernate]
	//	syncPolicy:
	//	  syncOptions: [RespectIgnoreDifferences=true]
	FieldManager = "kubex-hibernate"
)

// Scaler reads and writes Deployment replica counts.
type Scaler struct {
	Client client.Client
	// MetricsClient is optional; without it deployment listings carry no usage.
	MetricsClient metricsv.Interface

	// SuppressArgoCD writes replicas as FieldManager so an Application
	// ignoring that manager does not revert them. SuppressFlux annotates
	// Deployments scaled to zero.
	SuppressArgoCD bool
	SuppressFlux   bool
}

// GetReplicas returns spec.replicas, defaulting to 1 like the API server.
func (s *Scaler) GetReplicas(ctx context.Context, namespace, name string) (int32, error) {
	d := &appsv1.Deployment{}
	if err := s.Client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, d); err != nil {
		if errors.IsNotFound(err) {
			return 0, &schedule.NotFoundError{Kind: "deployment", Name: namespace + "/" + name}
		}
		return 0, err
	}
	return replicasOf(d), nil
}

// SetReplicas sets spec.replicas with a read-modify-write retried on conflict.
// Calling it again with the same count is a no-op.
func (s *Scaler) SetReplicas(ctx context.Context, namespace, name string, replicas int32) error {
	l := log.FromContext(ctx).WithValues("namespace", namespace, "deployment", name)

	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		d := &appsv1.Deployment{}
		if err := s.Client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, d); err != nil {
			if errors.IsNotFound(err) {
				return &schedule.NotFoundError{Kind: "deployment", Name: namespace + "/" + name}
			}
			return err
		}

		changed := replicasOf(d) != replicas || d.Spec.Replicas == nil
		if s.annotate(d, replicas == 0) {
			changed = true
		}
		if !changed {
			return nil
		}

		d.Spec.Replicas = &replicas
		l.V(1).Info("Setting replicas", "to", replicas)
		var opts []client.UpdateOption
		if s.SuppressArgoCD {
			opts = append(opts, client.FieldOwner(FieldManager))
		}
		return s.Client.Update(ctx, d, opts...)
	})
}

// annotate adds or removes the Flux suppression annotation and reports whether
// anything changed. A value this package did not set is left alone.
func (s *Scaler) annotate(d *appsv1.Deployment, parked bool) bool {
	changed := false
	set := func(enabled bool, key, value string) {
		current, ok := d.Annotations[key]
		switch {
		case parked && enabled && current != value:
			if d.Annotations == nil {
				d.Annotations = map[string]string{}
			}
			d.Annotations[key] = value
			changed = true
		case !parked && ok && current == value:
			delete(d.Annotations, key)
			changed = true
		}
	}
	set(s.SuppressFlux, FluxReconcileAnnotation, FluxReconcileValue)
	return changed
}

// IsNamespaceAllowed reports whether the namespace carries labelKey=labelValue.
// A missing namespace is not allowed.
func (s *Scaler) IsNamespaceAllowed(ctx context.Context, namespace, labelKey, labelValue string) (bool, error) {
	ns := &corev1.Namespace{}
	if err := s.Client.Get(ctx, client.ObjectKey{Name: namespace}, ns); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading namespace %s: %w", namespace, err)
	}
	return ns.Labels[labelKey] == labelValue, nil
}

// ListAllowedNamespaces returns the names of namespaces labelled labelKey=labelValue.
func (s *Scaler) ListAllowedNamespaces(ctx context.Context, labelKey, labelValue string) ([]string, error) {
	var list corev1.NamespaceList
	if err := s.Client.List(ctx, &list, client.MatchingLabels{labelKey: labelValue}); err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}
	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		names = append(names, ns.Name)
	}
	return names, nil
}

func replicasOf(d *appsv1.Deployment) int32 {
	return ptr.Deref(d.Spec.Replicas, 1)
}
