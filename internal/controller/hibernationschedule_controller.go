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
	stderrors "errors"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	hibernationv1 "github.com/migalsp/kubex-hibernate/api/v1"
	"github.com/migalsp/kubex-hibernate/internal/scaling"
	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

// HibernationScheduleReconciler applies direct edits of HibernationSchedule
// objects the same way the API applies them. Only used with the CRD store.
type HibernationScheduleReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Engine   *scaling.Engine
	Recorder record.EventRecorder

	// Namespace is the namespace the store reads. Objects elsewhere are ignored.
	Namespace string
}

// +kubebuilder:rbac:groups=hibernation.kubex.io,resources=hibernationschedules,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=hibernation.kubex.io,resources=hibernationschedules/finalizers,verbs=update
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

func (r *HibernationScheduleReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	l := logf.FromContext(ctx)
	if r.Namespace != "" && req.Namespace != r.Namespace {
		return ctrl.Result{}, nil
	}

	obj := &hibernationv1.HibernationSchedule{}
	if err := r.Get(ctx, req.NamespacedName, obj); err != nil {
		if errors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	l = l.WithValues("namespace", obj.Spec.TargetNamespace, "deployment", obj.Spec.DeploymentName)
	ctx = logf.IntoContext(ctx, l)

	if !obj.DeletionTimestamp.IsZero() {
		if !controllerutil.ContainsFinalizer(obj, hibernationv1.RestoreFinalizer) {
			return ctrl.Result{}, nil
		}
		l.Info("Schedule deleted, restoring deployment")
		if err := r.Engine.DeleteSchedule(ctx, obj.Name); err != nil && !schedule.IsNotFound(err) {
			return ctrl.Result{}, err
		}
		return ctrl.Result{}, nil
	}

	// Objects applied with kubectl skip the API checks.
	down, errDown := schedule.ParseTimeOfDay(obj.Spec.ScaleDownTime)
	up, errUp := schedule.ParseTimeOfDay(obj.Spec.ScaleUpTime)
	if err := firstError(errDown, errUp, schedule.ValidateWindow(down, up)); err != nil {
		l.Info("Ignoring invalid schedule", "reason", err.Error())
		r.event(obj, corev1.EventTypeWarning, "InvalidSchedule", err.Error())
		return ctrl.Result{}, nil
	}

	if controllerutil.AddFinalizer(obj, hibernationv1.RestoreFinalizer) {
		if err := r.Update(ctx, obj); err != nil {
			return ctrl.Result{}, err
		}
	}

	if _, err := r.Engine.Sync(ctx, obj.Name); err != nil {
		var transient *schedule.ClusterTransientError
		if stderrors.As(err, &transient) {
			// The next tick retries.
			l.Error(err, "Immediate scale action failed")
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

func (r *HibernationScheduleReconciler) event(obj *hibernationv1.HibernationSchedule, eventType, reason, message string) {
	if r.Recorder != nil {
		r.Recorder.Event(obj, eventType, reason, message)
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// deletionRequested lets deletions through regardless of generation.
func deletionRequested() predicate.Predicate {
	return predicate.NewPredicateFuncs(func(obj client.Object) bool {
		return !obj.GetDeletionTimestamp().IsZero()
	})
}

// SetupWithManager sets up the controller with the Manager.
func (r *HibernationScheduleReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&hibernationv1.HibernationSchedule{},
			builder.WithPredicates(predicate.Or[client.Object](predicate.GenerationChangedPredicate{}, deletionRequested()))).
		Named("hibernationschedule").
		Complete(r)
}
