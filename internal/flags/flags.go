package flags

import (
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/migalsp/kubex-hibernate/internal/wiring"
)

// Flags parses the commandline flags or environmental variables
func Flags(name, version string, args []string, cfg *wiring.Config) (*kingpin.Application, error) {
	app := kingpin.New(name, "Scales Deployments to zero on a daily schedule and restores them")
	app.Version(version)

	app.Flag("enable-leader-election", "Enable leader election, this will ensure there is only one active scheduler").Short('e').Envar("ENABLE_LEADER_ELECTION").BoolVar(&cfg.EnableLeaderElection)
	app.Flag("loglevel", `log level: "debug", "info", "warn", "error", "dpanic", "panic", and "fatal".`).Short('l').Envar("LOG_LEVEL").Default("info").EnumVar(&cfg.LogLevel, "debug", "info", "warn", "error", "dpanic", "panic", "fatal")
	app.Flag("metrics-addr", "The address the metric endpoint binds to").Short('m').Envar("METRICS_ADDR").Default(":8080").StringVar(&cfg.MetricsAddr)
	app.Flag("probe-addr", "The address the health probe endpoint binds to").Envar("PROBE_ADDR").Default(":8081").StringVar(&cfg.ProbeAddr)
	app.Flag("port", "Port of the HTTP API").Short('p').Envar("PORT").Default("8082").StringVar(&cfg.Port)

	app.Flag("timezone", "IANA timezone every schedule time is read in").Envar("TIMEZONE").Default("Europe/Paris").StringVar(&cfg.Timezone)
	app.Flag("namespace-label-key", "Label a namespace must carry to accept schedules").Envar("NAMESPACE_LABEL_KEY").Default("hibernation.kubex.io/enabled").StringVar(&cfg.NamespaceLabelKey)
	app.Flag("namespace-label-value", "Value of the namespace opt-in label").Envar("NAMESPACE_LABEL_VALUE").Default("true").StringVar(&cfg.NamespaceLabelValue)
	app.Flag("pod-namespace", "Namespace holding the HibernationSchedule objects").Envar("POD_NAMESPACE").Default("kubex").StringVar(&cfg.PodNamespace)
	app.Flag("call-timeout", "Time allowed for the cluster calls of one schedule during a tick").Envar("CALL_TIMEOUT").Default("20s").DurationVar(&cfg.CallTimeout)
	app.Flag("tick-concurrency", "Schedules processed in parallel during a tick").Envar("TICK_CONCURRENCY").Default("8").IntVar(&cfg.TickConcurrency)
	app.Flag("disable-on-opt-out", "Disable the schedules of a namespace that loses the opt-in label").Envar("DISABLE_ON_OPT_OUT").Default("true").BoolVar(&cfg.DisableOnOptOut)

	app.Flag("argocd-suppress", "Write replicas as field manager kubex-hibernate so an ArgoCD Application ignoring it does not revert them").Envar("ARGOCD_SUPPRESS").BoolVar(&cfg.SuppressArgoCD)
	app.Flag("flux-suppress", "Annotate parked deployments so Flux skips them").Envar("FLUX_SUPPRESS").BoolVar(&cfg.SuppressFlux)

	app.Flag("store", "Schedule store backend").Short('s').Envar("STORE").Default(wiring.StoreCRD).EnumVar(&cfg.Store, wiring.StoreCRD, wiring.StoreSQLite, wiring.StorePostgres)
	app.Flag("sqlite-path", "sqlite database file").Envar("SQLITE_PATH").Default("/data/hibernate.db").StringVar(&cfg.SQLitePath)
	app.Flag("db-host", "postgres host").Envar("DB_HOST").StringVar(&cfg.DBHost)
	app.Flag("db-port", "postgres port").Envar("DB_PORT").Default("5432").IntVar(&cfg.DBPort)
	app.Flag("db-user", "postgres user").Envar("DB_USER").StringVar(&cfg.DBUser)
	app.Flag("db-password", "postgres password").Envar("DB_PASSWORD").StringVar(&cfg.DBPassword)
	app.Flag("db-name", "postgres database").Envar("DB_NAME").Default("hibernate").StringVar(&cfg.DBName)
	app.Flag("db-sslmode", "postgres sslmode").Envar("DB_SSLMODE").Default("require").StringVar(&cfg.DBSSLMode)
	app.Flag("db-rds-instance", "RDS instance identifier to resolve the postgres endpoint from").Envar("DB_RDS_INSTANCE").StringVar(&cfg.DBRDSInstance)
	app.Flag("aws-region", "AWS region of the RDS instance").Envar("AWS_REGION").StringVar(&cfg.AWSRegion)

	app.Flag("admin-user", "API user, authentication is disabled when empty").Envar("ADMIN_USER").Default("admin").StringVar(&cfg.AdminUser)
	app.Flag("admin-password", "API password, authentication is disabled when empty").Envar("ADMIN_PASSWORD").StringVar(&cfg.AdminPassword)

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}
	return app, nil
}
