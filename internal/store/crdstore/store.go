// Package crdstore persists schedules as HibernationSchedule objects in the
// operator namespace.
package crdstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/retry"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	hibernationv1 "github.com/migalsp/kubex-hibernate/api/v1"
	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

// maxNameLength leaves room for the hash suffix in a DNS subdomain name.
const maxNameLength = 253 - 11

// Store implements schedule.Store on top of HibernationSchedule objects. The
// object name is the schedule ID.
type Store struct {
	Client    client.Client
	Namespace string

	// Location is applied to the times handed out. Defaults to UTC.
	Location *time.Location
	Clock    clock.PassiveClock
}

var _ schedule.Store = (*Store)(nil)

// ObjectName returns the deterministic object name for a deployment. Two
// schedules for the same deployment collide on create.
func ObjectName(namespace, deployment string) string {
	sum := sha256.Sum256([]byte(namespace + "/" + deployment))
	name := deployment
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return name + "-" + hex.EncodeToString(sum[:])[:10]
}

func (s *Store) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Store) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *Store) List(ctx context.Context, enabled *bool) ([]schedule.Schedule, error) {
	var list hibernationv1.HibernationScheduleList
	if err := s.Client.List(ctx, &list, client.InNamespace(s.Namespace)); err != nil {
		return nil, fmt.Errorf("listing hibernation schedules: %w", err)
	}

	out := make([]schedule.Schedule, 0, len(list.Items))
	for i := range list.Items {
		obj := &list.Items[i]
		if enabled != nil && (obj.Spec.Enabled != *enabled || !obj.DeletionTimestamp.IsZero()) {
			continue
		}
		sched, err := s.toSchedule(obj)
		if err != nil {
			// A hand-edited object with bad times is skipped, not fatal.
			continue
		}
		out = append(out, *sched)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	obj, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toSchedule(obj)
}

func (s *Store) GetByNamespaceDeployment(ctx context.Context, namespace, deployment string) (*schedule.Schedule, error) {
	if obj, err := s.get(ctx, ObjectName(namespace, deployment)); err == nil {
		return s.toSchedule(obj)
	} else if !schedule.IsNotFound(err) {
		return nil, err
	}

	// Objects applied with kubectl may carry any name.
	var list hibernationv1.HibernationScheduleList
	if err := s.Client.List(ctx, &list, client.InNamespace(s.Namespace)); err != nil {
		return nil, fmt.Errorf("listing hibernation schedules: %w", err)
	}
	for i := range list.Items {
		if list.Items[i].Spec.TargetNamespace == namespace && list.Items[i].Spec.DeploymentName == deployment {
			return s.toSchedule(&list.Items[i])
		}
	}
	return nil, &schedule.NotFoundError{Kind: "schedule", Name: namespace + "/" + deployment}
}

func (s *Store) Create(ctx context.Context, sched *schedule.Schedule) (*schedule.Schedule, error) {
	now := s.now()
	obj := &hibernationv1.HibernationSchedule{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ObjectName(sched.Namespace, sched.DeploymentName),
			Namespace: s.Namespace,
		},
	}
	controllerutil.AddFinalizer(obj, hibernationv1.RestoreFinalizer)
	fromSchedule(obj, sched)
	obj.Status.UpdatedAt = metav1.NewTime(now)

	if err := s.Client.Create(ctx, obj); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil, &schedule.ValidationError{
				Reason:  schedule.ReasonDuplicate,
				Message: fmt.Sprintf("a schedule already exists for %s/%s", sched.Namespace, sched.DeploymentName),
			}
		}
		return nil, fmt.Errorf("creating hibernation schedule: %w", err)
	}
	return s.toSchedule(obj)
}

func (s *Store) Update(ctx context.Context, id string, mutate func(*schedule.Schedule) error) (*schedule.Schedule, error) {
	var result *schedule.Schedule
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		obj, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		current, err := s.toSchedule(obj)
		if err != nil {
			return err
		}

		if err := mutate(current); err != nil {
			if errors.Is(err, schedule.ErrSkipUpdate) {
				result, err = s.toSchedule(obj)
			}
			return err
		}

		fromSchedule(obj, current)
		obj.Status.UpdatedAt = metav1.NewTime(s.now())
		if err := s.Client.Update(ctx, obj); err != nil {
			return err
		}
		result, err = s.toSchedule(obj)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete drops the restore finalizer and deletes the object. Callers restore
// the deployment first.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		obj, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if !controllerutil.RemoveFinalizer(obj, hibernationv1.RestoreFinalizer) {
			return nil
		}
		return s.Client.Update(ctx, obj)
	})
	if err != nil {
		return err
	}

	obj := &hibernationv1.HibernationSchedule{
		ObjectMeta: metav1.ObjectMeta{Name: id, Namespace: s.Namespace},
	}
	if err := s.Client.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting hibernation schedule %s: %w", id, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	var list hibernationv1.HibernationScheduleList
	return s.Client.List(ctx, &list, client.InNamespace(s.Namespace), client.Limit(1))
}

func (s *Store) get(ctx context.Context, id string) (*hibernationv1.HibernationSchedule, error) {
	obj := &hibernationv1.HibernationSchedule{}
	if err := s.Client.Get(ctx, client.ObjectKey{Namespace: s.Namespace, Name: id}, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &schedule.NotFoundError{Kind: "schedule", Name: id}
		}
		return nil, fmt.Errorf("reading hibernation schedule %s: %w", id, err)
	}
	return obj, nil
}

func (s *Store) toSchedule(obj *hibernationv1.HibernationSchedule) (*schedule.Schedule, error) {
	down, err := schedule.ParseTimeOfDay(obj.Spec.ScaleDownTime)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", obj.Name, err)
	}
	up, err := schedule.ParseTimeOfDay(obj.Spec.ScaleUpTime)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", obj.Name, err)
	}

	loc := s.location()
	sched := &schedule.Schedule{
		ID:             obj.Name,
		Namespace:      obj.Spec.TargetNamespace,
		DeploymentName: obj.Spec.DeploymentName,
		ScaleDownTime:  down,
		ScaleUpTime:    up,
		Enabled:        obj.Spec.Enabled,
		IsScaledDown:   obj.Status.IsScaledDown,
		CreatedAt:      obj.CreationTimestamp.In(loc),
		UpdatedAt:      obj.Status.UpdatedAt.In(loc),
	}
	if obj.CreationTimestamp.IsZero() {
		sched.CreatedAt = sched.UpdatedAt
	}
	if obj.Status.OriginalReplicas != nil {
		n := *obj.Status.OriginalReplicas
		sched.OriginalReplicas = &n
	}
	if obj.Status.LastScaledAt != nil {
		t := obj.Status.LastScaledAt.In(loc)
		sched.LastScaledAt = &t
	}
	return sched, nil
}

func fromSchedule(obj *hibernationv1.HibernationSchedule, sched *schedule.Schedule) {
	obj.Spec.TargetNamespace = sched.Namespace
	obj.Spec.DeploymentName = sched.DeploymentName
	obj.Spec.ScaleDownTime = sched.ScaleDownTime.String()
	obj.Spec.ScaleUpTime = sched.ScaleUpTime.String()
	obj.Spec.Enabled = sched.Enabled

	obj.Status.IsScaledDown = sched.IsScaledDown
	obj.Status.OriginalReplicas = nil
	if sched.OriginalReplicas != nil {
		n := *sched.OriginalReplicas
		obj.Status.OriginalReplicas = &n
	}
	obj.Status.LastScaledAt = nil
	if sched.LastScaledAt != nil {
		t := metav1.NewTime(*sched.LastScaledAt)
		obj.Status.LastScaledAt = &t
	}
}
