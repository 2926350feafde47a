package schedule

import (
	"context"
	"time"
)

// State is the hibernation state of a schedule, derived from Enabled and
// IsScaledDown.
type State int

const (
	Disabled State = iota
	Awake
	Hibernating
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Awake:
		return "Awake"
	case Hibernating:
		return "Hibernating"
	}
	return "Unknown"
}

// Schedule is the hibernation record of one Deployment. JSON names match the
// persisted column names.
type Schedule struct {
	ID               string     `json:"id"`
	Namespace        string     `json:"namespace"`
	DeploymentName   string     `json:"deployment_name"`
	ScaleDownTime    TimeOfDay  `json:"scale_down_time"`
	ScaleUpTime      TimeOfDay  `json:"scale_up_time"`
	Enabled          bool       `json:"enabled"`
	OriginalReplicas *int32     `json:"original_replicas"`
	IsScaledDown     bool       `json:"is_scaled_down"`
	LastScaledAt     *time.Time `json:"last_scaled_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// State returns the derived state. A disabled schedule is Disabled even if its
// deployment is still parked at zero.
func (s *Schedule) State() State {
	switch {
	case !s.Enabled:
		return Disabled
	case s.IsScaledDown:
		return Hibernating
	default:
		return Awake
	}
}

// Key returns "namespace/deployment".
func (s *Schedule) Key() string {
	return s.Namespace + "/" + s.DeploymentName
}

// RestoreReplicas is the count to restore on wake up. A schedule that never
// captured a count wakes to a single replica.
func (s *Schedule) RestoreReplicas() int32 {
	if s.OriginalReplicas == nil {
		return 1
	}
	return *s.OriginalReplicas
}

// Store persists schedules. Implementations enforce uniqueness of
// (namespace, deployment) and return *NotFoundError for missing records.
type Store interface {
	// List returns all schedules, or only those matching enabled when non-nil.
	List(ctx context.Context, enabled *bool) ([]Schedule, error)
	Get(ctx context.Context, id string) (*Schedule, error)
	GetByNamespaceDeployment(ctx context.Context, namespace, deployment string) (*Schedule, error)
	// Create rejects a duplicate (namespace, deployment) with a
	// ValidationError of reason ReasonDuplicate.
	Create(ctx context.Context, s *Schedule) (*Schedule, error)
	// Update runs mutate against a freshly read record and writes the result
	// in one transaction. mutate may run more than once on write conflicts.
	// Returning ErrSkipUpdate leaves the record as read.
	Update(ctx context.Context, id string, mutate func(*Schedule) error) (*Schedule, error)
	Delete(ctx context.Context, id string) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
