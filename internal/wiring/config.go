package wiring

import (
	"fmt"
	"time"

	"github.com/migalsp/kubex-hibernate/internal/store/sqlstore"
)

// Store backends.
const (
	StoreCRD      = "crd"
	StoreSQLite   = sqlstore.DriverSQLite
	StorePostgres = sqlstore.DriverPostgres
)

// Config defines the app config
type Config struct {
	EnableLeaderElection bool
	LogLevel             string
	MetricsAddr          string
	ProbeAddr            string
	Port                 string

	Timezone            string
	NamespaceLabelKey   string
	NamespaceLabelValue string
	PodNamespace        string
	CallTimeout         time.Duration
	TickConcurrency     int
	DisableOnOptOut     bool

	SuppressArgoCD bool
	SuppressFlux   bool

	Store         string
	SQLitePath    string
	DBHost        string
	DBPort        int
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	DBRDSInstance string
	AWSRegion     string

	AdminUser     string
	AdminPassword string
}

// Location loads the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Database returns the SQL store configuration.
func (c Config) Database() sqlstore.Config {
	return sqlstore.Config{
		Driver:      c.Store,
		SQLitePath:  c.SQLitePath,
		Host:        c.DBHost,
		Port:        c.DBPort,
		User:        c.DBUser,
		Password:    c.DBPassword,
		Name:        c.DBName,
		SSLMode:     c.DBSSLMode,
		RDSInstance: c.DBRDSInstance,
		AWSRegion:   c.AWSRegion,
	}
}
