/*
Copyright 2026 migalsp.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/migalsp/kubex-hibernate/internal/scaling"
	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

// NamespaceOptOutReconciler watches namespaces and disables the schedules of
// a namespace that lost the opt-in label, waking its parked deployments.
type NamespaceOptOutReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Engine *scaling.Engine

	LabelKey   string
	LabelValue string
}

// +kubebuilder:rbac:groups="",resources=namespaces,verbs=get;list;watch

func (r *NamespaceOptOutReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	l := log.FromContext(ctx)

	var ns corev1.Namespace
	if err := r.Get(ctx, req.NamespacedName, &ns); err != nil {
		if apierrors.IsNotFound(err) {
			// Deployments go with the namespace, nothing to restore.
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	if !ns.DeletionTimestamp.IsZero() || ns.Labels[r.LabelKey] == r.LabelValue {
		return ctrl.Result{}, nil
	}

	schedules, err := r.Engine.ListSchedules(ctx)
	if err != nil {
		return ctrl.Result{}, err
	}

	disable := schedule.Patch{Enabled: ptr.To(false)}
	for _, s := range schedules {
		if s.Namespace != ns.Name || !s.Enabled {
			continue
		}
		l.Info("Namespace opted out, disabling schedule", "namespace", s.Namespace, "deployment", s.DeploymentName)
		if _, err := r.Engine.UpdateSchedule(ctx, s.ID, disable); err != nil && !schedule.IsNotFound(err) {
			return ctrl.Result{}, err
		}
	}
	return ctrl.Result{}, nil
}

func (r *NamespaceOptOutReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Namespace{}, builder.WithPredicates(predicate.LabelChangedPredicate{})).
		Named("namespace-optout").
		Complete(r)
}
