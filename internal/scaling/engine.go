package scaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

const (
	defaultCallTimeout = 20 * time.Second
	defaultConcurrency = 8
)

// Scaler is the cluster access the engine needs.
type Scaler interface {
	// GetReplicas returns the desired replica count of a Deployment, or a
	// *schedule.NotFoundError.
	GetReplicas(ctx context.Context, namespace, name string) (int32, error)
	SetReplicas(ctx context.Context, namespace, name string, replicas int32) error
	IsNamespaceAllowed(ctx context.Context, namespace, labelKey, labelValue string) (bool, error)
}

// Engine hibernates Deployments on their schedules. It runs a tick at second 0
// of every minute and serves create/update/delete requests, both applying the
// same transition function.
type Engine struct {
	Store  schedule.Store
	Scaler Scaler

	// Clock defaults to the real clock. Location is the timezone every HH:MM
	// is compared in and defaults to UTC.
	Clock    clock.WithTicker
	Location *time.Location

	// Recorder, when set, receives events on the target Deployments.
	Recorder record.EventRecorder

	NamespaceLabelKey   string
	NamespaceLabelValue string

	// CallTimeout bounds the work on one schedule during a tick.
	CallTimeout time.Duration
	// Concurrency is the number of schedules processed in parallel per tick.
	Concurrency int

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func (e *Engine) clock() clock.WithTicker {
	if e.Clock == nil {
		return clock.RealClock{}
	}
	return e.Clock
}

func (e *Engine) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

func (e *Engine) callTimeout() time.Duration {
	if e.CallTimeout <= 0 {
		return defaultCallTimeout
	}
	return e.CallTimeout
}

func (e *Engine) concurrency() int {
	if e.Concurrency <= 0 {
		return defaultConcurrency
	}
	return e.Concurrency
}

// Now returns the current time in the configured timezone.
func (e *Engine) Now() time.Time {
	return e.clock().Now().In(e.location())
}

// NeedLeaderElection keeps the tick loop on a single replica.
func (e *Engine) NeedLeaderElection() bool {
	return true
}

// Start runs the tick loop until ctx is cancelled or Stop is called. A tick in
// progress is allowed to finish; no tick starts after shutdown.
func (e *Engine) Start(ctx context.Context) error {
	l := log.FromContext(ctx).WithName("hibernation-engine")

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return errors.New("hibernation engine already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stopped = make(chan struct{})
	stopped := e.stopped
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.cancel = nil
		e.stopped = nil
		e.mu.Unlock()
		close(stopped)
	}()

	l.Info("Starting hibernation scheduler", "timezone", e.location().String())
	for {
		timer := e.clock().NewTimer(untilNextMinute(e.clock().Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			l.Info("Hibernation scheduler stopped")
			return nil
		case <-timer.C():
		}
		// Evaluations already started finish even if shutdown begins now.
		e.Tick(log.IntoContext(context.WithoutCancel(ctx), l))
	}
}

// Stop cancels the tick loop and waits for the running tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, stopped := e.cancel, e.stopped
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

// Tick evaluates every enabled schedule once. Schedules are processed
// independently: a failure or a stuck call on one does not hold back the others.
func (e *Engine) Tick(ctx context.Context) {
	start := e.clock().Now()
	now := start.In(e.location())
	l := log.FromContext(ctx).WithValues("tick", schedule.At(now).String())

	enabled := true
	schedules, err := e.Store.List(ctx, &enabled)
	if err != nil {
		l.Error(err, "Failed to list enabled schedules")
		return
	}
	l.V(1).Info("Checking schedules", "count", len(schedules))

	var hibernating int
	var g errgroup.Group
	g.SetLimit(e.concurrency())
	for i := range schedules {
		s := schedules[i]
		if s.IsScaledDown {
			hibernating++
		}
		if Decide(&s, now, TriggerTick) == ActionNone {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.callTimeout())
			defer cancel()
			if _, err := e.reconcile(callCtx, s.ID, now, TriggerTick); err != nil {
				l.Error(err, "Failed to process schedule", "namespace", s.Namespace, "deployment", s.DeploymentName)
			}
			return nil
		})
	}
	_ = g.Wait()

	schedulesByState.WithLabelValues(schedule.Hibernating.String()).Set(float64(hibernating))
	schedulesByState.WithLabelValues(schedule.Awake.String()).Set(float64(len(schedules) - hibernating))
	disabled := false
	if off, err := e.Store.List(ctx, &disabled); err != nil {
		l.V(1).Info("Failed to count disabled schedules", "error", err.Error())
	} else {
		schedulesByState.WithLabelValues(schedule.Disabled.String()).Set(float64(len(off)))
	}
	tickDuration.Observe(e.clock().Since(start).Seconds())
}

// Sync re-evaluates one schedule as an edit: it hibernates an enabled schedule
// whose window contains now and wakes a disabled one still parked at zero.
func (e *Engine) Sync(ctx context.Context, id string) (*schedule.Schedule, error) {
	return e.reconcile(ctx, id, e.Now(), TriggerEdit)
}

// reconcile runs one transition inside the store's per-record transaction.
// Nothing is written when no action applies or the cluster call fails.
func (e *Engine) reconcile(ctx context.Context, id string, now time.Time, trigger Trigger) (*schedule.Schedule, error) {
	return e.Store.Update(ctx, id, func(s *schedule.Schedule) error {
		action, err := e.transition(ctx, s, now, trigger)
		if err != nil {
			return err
		}
		if action == ActionNone {
			return schedule.ErrSkipUpdate
		}
		return nil
	})
}

// transition applies the action Decide picks for s. s is modified only after
// the cluster write succeeded.
func (e *Engine) transition(ctx context.Context, s *schedule.Schedule, now time.Time, trigger Trigger) (Action, error) {
	action := Decide(s, now, trigger)
	var err error
	switch action {
	case ActionNone:
		return ActionNone, nil
	case ActionHibernate:
		err = e.hibernate(ctx, s, now)
	case ActionWake:
		err = e.wake(ctx, s, now)
	}
	observeTransition(action, trigger, err)
	return action, err
}

// hibernate captures the live replica count and scales the deployment to zero.
// A zero live count never overwrites a captured one.
func (e *Engine) hibernate(ctx context.Context, s *schedule.Schedule, now time.Time) error {
	l := log.FromContext(ctx).WithValues("namespace", s.Namespace, "deployment", s.DeploymentName)

	live, err := e.Scaler.GetReplicas(ctx, s.Namespace, s.DeploymentName)
	if err != nil {
		return &schedule.ClusterTransientError{Op: "get replicas", Namespace: s.Namespace, Deployment: s.DeploymentName, Err: err}
	}
	original := s.OriginalReplicas
	if original == nil || live > 0 {
		original = &live
	}

	if err := e.Scaler.SetReplicas(ctx, s.Namespace, s.DeploymentName, 0); err != nil {
		e.event(s, corev1.EventTypeWarning, "ScaleFailed", "Failed to scale down: %v", err)
		return &schedule.ClusterTransientError{Op: "scale down", Namespace: s.Namespace, Deployment: s.DeploymentName, Err: err}
	}

	s.OriginalReplicas = original
	s.IsScaledDown = true
	s.LastScaledAt = &now
	l.Info("Scaled down deployment", "from", live, "originalReplicas", *original)
	e.event(s, corev1.EventTypeNormal, "Hibernated", "Scaled down from %d to 0 replicas", live)
	return nil
}

// wake restores the captured replica count.
func (e *Engine) wake(ctx context.Context, s *schedule.Schedule, now time.Time) error {
	l := log.FromContext(ctx).WithValues("namespace", s.Namespace, "deployment", s.DeploymentName)

	target := s.RestoreReplicas()
	if err := e.Scaler.SetReplicas(ctx, s.Namespace, s.DeploymentName, target); err != nil {
		e.event(s, corev1.EventTypeWarning, "ScaleFailed", "Failed to restore %d replicas: %v", target, err)
		return &schedule.ClusterTransientError{Op: "scale up", Namespace: s.Namespace, Deployment: s.DeploymentName, Err: err}
	}

	s.IsScaledDown = false
	s.LastScaledAt = &now
	l.Info("Scaled up deployment", "to", target)
	e.event(s, corev1.EventTypeNormal, "WokeUp", "Restored %d replicas", target)
	return nil
}

func (e *Engine) event(s *schedule.Schedule, eventType, reason, messageFmt string, args ...interface{}) {
	if e.Recorder == nil {
		return
	}
	ref := &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{Name: s.DeploymentName, Namespace: s.Namespace},
	}
	e.Recorder.Eventf(ref, eventType, reason, messageFmt, args...)
}

// ListSchedules returns all schedules.
func (e *Engine) ListSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	return e.Store.List(ctx, nil)
}

// GetSchedule returns one schedule.
func (e *Engine) GetSchedule(ctx context.Context, id string) (*schedule.Schedule, error) {
	return e.Store.Get(ctx, id)
}

// CreateSchedule validates the request against the cluster, captures the live
// replica count and stores the schedule. If the window already contains now the
// deployment is scaled down right away; a failure there is logged and left to
// the next tick.
func (e *Engine) CreateSchedule(ctx context.Context, req schedule.CreateRequest) (*schedule.Schedule, error) {
	l := log.FromContext(ctx).WithValues("namespace", req.Namespace, "deployment", req.DeploymentName)

	down, up, err := req.Validate()
	if err != nil {
		return nil, err
	}

	allowed, err := e.Scaler.IsNamespaceAllowed(ctx, req.Namespace, e.NamespaceLabelKey, e.NamespaceLabelValue)
	if err != nil {
		return nil, fmt.Errorf("checking namespace %s: %w", req.Namespace, err)
	}
	if !allowed {
		return nil, &schedule.ValidationError{
			Reason: schedule.ReasonNamespaceNotAllowed,
			Message: fmt.Sprintf("namespace %q is not allowed, add label %s=%s to enable scheduling",
				req.Namespace, e.NamespaceLabelKey, e.NamespaceLabelValue),
		}
	}

	replicas, err := e.Scaler.GetReplicas(ctx, req.Namespace, req.DeploymentName)
	if err != nil {
		return nil, err
	}

	if _, err := e.Store.GetByNamespaceDeployment(ctx, req.Namespace, req.DeploymentName); err == nil {
		return nil, &schedule.ValidationError{
			Reason:  schedule.ReasonDuplicate,
			Message: "a schedule already exists for this deployment, edit it instead",
		}
	} else if !schedule.IsNotFound(err) {
		return nil, err
	}

	created, err := e.Store.Create(ctx, &schedule.Schedule{
		Namespace:        req.Namespace,
		DeploymentName:   req.DeploymentName,
		ScaleDownTime:    down,
		ScaleUpTime:      up,
		Enabled:          true,
		OriginalReplicas: &replicas,
	})
	if err != nil {
		return nil, err
	}
	l.Info("Created schedule", "id", created.ID, "scaleDownTime", down.String(), "scaleUpTime", up.String())

	now := e.Now()
	if !InHibernationPeriod(down, up, schedule.At(now)) {
		return created, nil
	}
	updated, err := e.Store.Update(ctx, created.ID, func(s *schedule.Schedule) error {
		e.applyEdit(ctx, s, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateSchedule applies a partial update. Disabling a hibernating schedule
// restores its deployment; enabling it or moving its window over now scales
// it down. The record change commits even if that cluster call fails.
func (e *Engine) UpdateSchedule(ctx context.Context, id string, patch schedule.Patch) (*schedule.Schedule, error) {
	now := e.Now()
	updated, err := e.Store.Update(ctx, id, func(s *schedule.Schedule) error {
		if err := patch.Apply(s); err != nil {
			return err
		}
		e.applyEdit(ctx, s, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.FromContext(ctx).Info("Updated schedule", "id", id, "namespace", updated.Namespace,
		"deployment", updated.DeploymentName, "enabled", updated.Enabled)
	return updated, nil
}

// DeleteSchedule restores a parked deployment before removing its schedule so
// no deployment is left at zero without a schedule to wake it. The restore is
// best effort.
func (e *Engine) DeleteSchedule(ctx context.Context, id string) error {
	l := log.FromContext(ctx)

	s, err := e.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	l = l.WithValues("namespace", s.Namespace, "deployment", s.DeploymentName)

	if s.IsScaledDown {
		if err := e.wake(ctx, s, e.Now()); err != nil {
			l.Error(err, "Failed to scale up deployment when deleting schedule")
		}
	}

	if err := e.Store.Delete(ctx, id); err != nil {
		return err
	}
	l.Info("Deleted schedule", "id", id)
	return nil
}

// applyEdit runs an edit-triggered transition. Cluster failures do not block
// the record change.
func (e *Engine) applyEdit(ctx context.Context, s *schedule.Schedule, now time.Time) {
	action, err := e.transition(ctx, s, now, TriggerEdit)
	if err != nil {
		log.FromContext(ctx).Error(err, "Immediate scale action failed, deferring to the next tick",
			"namespace", s.Namespace, "deployment", s.DeploymentName, "action", action.String())
	}
}
