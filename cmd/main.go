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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	hibernationv1 "github.com/migalsp/kubex-hibernate/api/v1"
	"github.com/migalsp/kubex-hibernate/internal/api"
	"github.com/migalsp/kubex-hibernate/internal/cluster"
	"github.com/migalsp/kubex-hibernate/internal/controller"
	"github.com/migalsp/kubex-hibernate/internal/flags"
	"github.com/migalsp/kubex-hibernate/internal/scaling"
	"github.com/migalsp/kubex-hibernate/internal/schedule"
	"github.com/migalsp/kubex-hibernate/internal/store/crdstore"
	"github.com/migalsp/kubex-hibernate/internal/store/sqlstore"
	"github.com/migalsp/kubex-hibernate/internal/wiring"
	// +kubebuilder:scaffold:imports
)

const appName = "kubex-hibernate"

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	utilruntime.Must(hibernationv1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

func main() {
	var cfg wiring.Config
	if _, err := flags.Flags(appName, api.Version, os.Args[1:], &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(2)
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	ctrl.SetLogger(zap.New(zap.Level(level)))

	if err := run(ctrl.SetupSignalHandler(), cfg); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg wiring.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	restConfig := ctrl.GetConfigOrDie()
	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.MetricsAddr},
		HealthProbeBindAddress: cfg.ProbeAddr,
		LeaderElection:         cfg.EnableLeaderElection,
		LeaderElectionID:       "hibernate.kubex.io",
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	metricsClient, err := metricsv.NewForConfig(restConfig)
	if err != nil {
		setupLog.Info("Metrics API client unavailable, deployment usage disabled", "error", err.Error())
	}
	k8sClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("unable to create clientset: %w", err)
	}

	store, err := newStore(ctx, cfg, mgr, loc)
	if err != nil {
		return err
	}

	scaler := &cluster.Scaler{
		Client:         mgr.GetClient(),
		SuppressArgoCD: cfg.SuppressArgoCD,
		SuppressFlux:   cfg.SuppressFlux,
	}
	if metricsClient != nil {
		scaler.MetricsClient = metricsClient
	}

	engine := &scaling.Engine{
		Store:               store,
		Scaler:              scaler,
		Location:            loc,
		Recorder:            mgr.GetEventRecorderFor(appName),
		NamespaceLabelKey:   cfg.NamespaceLabelKey,
		NamespaceLabelValue: cfg.NamespaceLabelValue,
		CallTimeout:         cfg.CallTimeout,
		Concurrency:         cfg.TickConcurrency,
	}
	if err := mgr.Add(engine); err != nil {
		return fmt.Errorf("unable to add hibernation engine: %w", err)
	}

	if cfg.Store == wiring.StoreCRD {
		if err := (&controller.HibernationScheduleReconciler{
			Client:    mgr.GetClient(),
			Scheme:    mgr.GetScheme(),
			Engine:    engine,
			Recorder:  mgr.GetEventRecorderFor(appName),
			Namespace: cfg.PodNamespace,
		}).SetupWithManager(mgr); err != nil {
			return fmt.Errorf("unable to create controller HibernationSchedule: %w", err)
		}
	}
	if cfg.DisableOnOptOut {
		if err := (&controller.NamespaceOptOutReconciler{
			Client:     mgr.GetClient(),
			Scheme:     mgr.GetScheme(),
			Engine:     engine,
			LabelKey:   cfg.NamespaceLabelKey,
			LabelValue: cfg.NamespaceLabelValue,
		}).SetupWithManager(mgr); err != nil {
			return fmt.Errorf("unable to create controller NamespaceOptOut: %w", err)
		}
	}
	// +kubebuilder:scaffold:builder

	server := &api.Server{
		Engine:    engine,
		Cluster:   scaler,
		K8sClient: k8sClient,
		Port:      cfg.Port,
		Auth:      &api.Auth{User: cfg.AdminUser, Password: cfg.AdminPassword},
	}
	if err := mgr.Add(server); err != nil {
		return fmt.Errorf("unable to add API server: %w", err)
	}
	if cfg.AdminPassword == "" {
		setupLog.Info("ADMIN_PASSWORD is not set, API authentication is disabled")
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", func(req *http.Request) error {
		return store.Ping(req.Context())
	}); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	setupLog.Info("starting manager", "version", api.Version, "store", cfg.Store, "timezone", loc.String())
	return mgr.Start(ctx)
}

func newStore(ctx context.Context, cfg wiring.Config, mgr ctrl.Manager, loc *time.Location) (schedule.Store, error) {
	switch cfg.Store {
	case wiring.StoreCRD:
		return &crdstore.Store{Client: mgr.GetClient(), Namespace: cfg.PodNamespace, Location: loc}, nil
	default:
		ctx = ctrl.LoggerInto(ctx, setupLog)
		db, err := sqlstore.Open(ctx, cfg.Database())
		if err != nil {
			return nil, err
		}
		return sqlstore.New(ctx, db, loc, nil)
	}
}
