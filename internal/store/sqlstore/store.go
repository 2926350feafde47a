// Package sqlstore persists schedules in a SQL database through gorm. sqlite
// and postgres are supported.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	commitTimeout = 10 * time.Second
)

// Config selects and addresses the database.
type Config struct {
	Driver     string
	SQLitePath string

	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	// RDSInstance, when set, replaces Host and Port with the endpoint of
	// that RDS instance.
	RDSInstance string
	AWSRegion   string
	// RDS overrides the client built from the default AWS configuration.
	RDS RDSDescriber
}

// scheduleRow is the persisted record. Times are naive wall-clock timestamps
// in the operator timezone.
type scheduleRow struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)"`
	Namespace        string     `gorm:"not null;uniqueIndex:uix_namespace_deployment"`
	DeploymentName   string     `gorm:"not null;uniqueIndex:uix_namespace_deployment"`
	ScaleDownTime    string     `gorm:"type:varchar(5);not null"`
	ScaleUpTime      string     `gorm:"type:varchar(5);not null"`
	Enabled          bool       `gorm:"not null"`
	OriginalReplicas *int32
	IsScaledDown     bool       `gorm:"not null"`
	LastScaledAt     *time.Time `gorm:"type:timestamp"`
	CreatedAt        time.Time  `gorm:"type:timestamp;autoCreateTime:false"`
	UpdatedAt        time.Time  `gorm:"type:timestamp;autoUpdateTime:false"`
}

func (scheduleRow) TableName() string {
	return "schedules"
}

// Open connects to the configured database.
func Open(ctx context.Context, cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	case DriverPostgres:
		if cfg.RDSInstance != "" {
			api := cfg.RDS
			if api == nil {
				client, err := NewRDSClient(ctx, cfg.AWSRegion)
				if err != nil {
					return nil, err
				}
				api = client
			}
			host, port, err := ResolveRDSEndpoint(ctx, api, cfg.RDSInstance)
			if err != nil {
				return nil, err
			}
			cfg.Host, cfg.Port = host, port
			log.FromContext(ctx).Info("Resolved database endpoint from RDS", "instance", cfg.RDSInstance, "host", host, "port", port)
		}
		dialector = postgres.Open(PostgresDSN(cfg))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite has a single writer; an in-memory database exists per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// PostgresDSN builds a libpq keyword/value connection string.
func PostgresDSN(cfg Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.User, cfg.Password, cfg.Name, sslMode)
}

// Store implements schedule.Store on a gorm database.
type Store struct {
	db       *gorm.DB
	location *time.Location
	clock    clock.PassiveClock
}

var _ schedule.Store = (*Store)(nil)

// New migrates the schedules table and returns a Store. loc is the timezone
// naive timestamps are read and written in.
func New(ctx context.Context, db *gorm.DB, loc *time.Location, clk clock.PassiveClock) (*Store, error) {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if err := db.WithContext(ctx).AutoMigrate(&scheduleRow{}); err != nil {
		return nil, fmt.Errorf("migrating schedules table: %w", err)
	}
	return &Store{db: db, location: loc, clock: clk}, nil
}

func (s *Store) List(ctx context.Context, enabled *bool) ([]schedule.Schedule, error) {
	q := s.db.WithContext(ctx).Order("namespace").Order("deployment_name")
	if enabled != nil {
		q = q.Where("enabled = ?", *enabled)
	}
	var rows []scheduleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	out := make([]schedule.Schedule, 0, len(rows))
	for i := range rows {
		sched, err := s.toSchedule(&rows[i])
		if err != nil {
			continue
		}
		out = append(out, *sched)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	var row scheduleRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, id)
	}
	return s.toSchedule(&row)
}

func (s *Store) GetByNamespaceDeployment(ctx context.Context, namespace, deployment string) (*schedule.Schedule, error) {
	var row scheduleRow
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND deployment_name = ?", namespace, deployment).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, namespace+"/"+deployment)
	}
	return s.toSchedule(&row)
}

func (s *Store) Create(ctx context.Context, sched *schedule.Schedule) (*schedule.Schedule, error) {
	now := s.naive(s.clock.Now())
	row := s.fromSchedule(sched)
	row.ID = uuid.NewString()
	row.CreatedAt = now
	row.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &schedule.ValidationError{
				Reason:  schedule.ReasonDuplicate,
				Message: fmt.Sprintf("a schedule already exists for %s/%s", sched.Namespace, sched.DeploymentName),
			}
		}
		return nil, fmt.Errorf("creating schedule: %w", err)
	}
	return s.toSchedule(row)
}

// Update reads the record, runs mutate without holding a connection or a
// transaction, then writes the columns mutate changed in a short transaction.
// Concurrent updates of different columns both survive; for the same column
// the last write wins.
func (s *Store) Update(ctx context.Context, id string, mutate func(*schedule.Schedule) error) (*schedule.Schedule, error) {
	var row scheduleRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, id)
	}
	current, err := s.toSchedule(&row)
	if err != nil {
		return nil, err
	}

	if err := mutate(current); err != nil {
		if errors.Is(err, schedule.ErrSkipUpdate) {
			return s.toSchedule(&row)
		}
		return nil, err
	}

	changes := changedColumns(&row, s.fromSchedule(current))
	changes["updated_at"] = s.naive(s.clock.Now())

	// mutate may have changed the cluster already; record it even if the
	// caller's deadline has passed meanwhile.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	var result *schedule.Schedule
	err = s.db.WithContext(commitCtx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&scheduleRow{}).Where("id = ?", id).Updates(changes)
		if res.Error != nil {
			return fmt.Errorf("updating schedule %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return &schedule.NotFoundError{Kind: "schedule", Name: id}
		}

		var updated scheduleRow
		if err := tx.Where("id = ?", id).First(&updated).Error; err != nil {
			return notFound(err, id)
		}
		result, err = s.toSchedule(&updated)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// changedColumns lists the mutable columns that differ between before and
// after.
func changedColumns(before, after *scheduleRow) map[string]interface{} {
	changes := map[string]interface{}{}
	if before.ScaleDownTime != after.ScaleDownTime {
		changes["scale_down_time"] = after.ScaleDownTime
	}
	if before.ScaleUpTime != after.ScaleUpTime {
		changes["scale_up_time"] = after.ScaleUpTime
	}
	if before.Enabled != after.Enabled {
		changes["enabled"] = after.Enabled
	}
	if before.IsScaledDown != after.IsScaledDown {
		changes["is_scaled_down"] = after.IsScaledDown
	}
	if !equalPtr(before.OriginalReplicas, after.OriginalReplicas, func(a, b int32) bool { return a == b }) {
		changes["original_replicas"] = after.OriginalReplicas
	}
	if !equalPtr(before.LastScaledAt, after.LastScaledAt, time.Time.Equal) {
		changes["last_scaled_at"] = after.LastScaledAt
	}
	return changes
}

func equalPtr[T any](a, b *T, eq func(T, T) bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return eq(*a, *b)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&scheduleRow{})
	if res.Error != nil {
		return fmt.Errorf("deleting schedule %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &schedule.NotFoundError{Kind: "schedule", Name: id}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error, name string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &schedule.NotFoundError{Kind: "schedule", Name: name}
	}
	return fmt.Errorf("reading schedule %s: %w", name, err)
}

// naive drops the zone after converting t to the store location.
func (s *Store) naive(t time.Time) time.Time {
	l := t.In(s.location)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC).
		Truncate(time.Microsecond)
}

func (s *Store) aware(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), s.location)
}

func (s *Store) toSchedule(row *scheduleRow) (*schedule.Schedule, error) {
	down, err := schedule.ParseTimeOfDay(row.ScaleDownTime)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", row.ID, err)
	}
	up, err := schedule.ParseTimeOfDay(row.ScaleUpTime)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", row.ID, err)
	}
	sched := &schedule.Schedule{
		ID:             row.ID,
		Namespace:      row.Namespace,
		DeploymentName: row.DeploymentName,
		ScaleDownTime:  down,
		ScaleUpTime:    up,
		Enabled:        row.Enabled,
		IsScaledDown:   row.IsScaledDown,
		CreatedAt:      s.aware(row.CreatedAt),
		UpdatedAt:      s.aware(row.UpdatedAt),
	}
	if row.OriginalReplicas != nil {
		n := *row.OriginalReplicas
		sched.OriginalReplicas = &n
	}
	if row.LastScaledAt != nil {
		t := s.aware(*row.LastScaledAt)
		sched.LastScaledAt = &t
	}
	return sched, nil
}

func (s *Store) fromSchedule(sched *schedule.Schedule) *scheduleRow {
	row := &scheduleRow{
		Namespace:      sched.Namespace,
		DeploymentName: sched.DeploymentName,
		ScaleDownTime:  sched.ScaleDownTime.String(),
		ScaleUpTime:    sched.ScaleUpTime.String(),
		Enabled:        sched.Enabled,
		IsScaledDown:   sched.IsScaledDown,
	}
	if sched.OriginalReplicas != nil {
		n := *sched.OriginalReplicas
		row.OriginalReplicas = &n
	}
	if sched.LastScaledAt != nil {
		t := s.naive(*sched.LastScaledAt)
		row.LastScaledAt = &t
	}
	return row
}
