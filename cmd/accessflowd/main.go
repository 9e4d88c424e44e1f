// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// accessflowd compiles endpoint and security group policy into the access
// bridge flow pipeline and keeps it current as configuration changes.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/accessflow/accessflow/pkg/accessflow"
	"github.com/accessflow/accessflow/pkg/ctzone"
	"github.com/accessflow/accessflow/pkg/flowcache"
	"github.com/accessflow/accessflow/pkg/idgen"
	"github.com/accessflow/accessflow/pkg/inventory"
	"github.com/accessflow/accessflow/pkg/logging"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
	"github.com/accessflow/accessflow/pkg/metrics"
	"github.com/accessflow/accessflow/pkg/option"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "daemon")

// cleanupInterval paces the id-namespace garbage collection.
const cleanupInterval = 3 * time.Minute

func main() {
	if err := newAgentCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newAgentCmd() *cobra.Command {
	vp := viper.New()
	cmd := &cobra.Command{
		Use:   "accessflowd",
		Short: "Access bridge flow pipeline agent",
		Run: func(cmd *cobra.Command, args []string) {
			option.AgentConfig.Populate(vp)
			runAgent(&option.AgentConfig)
		},
	}

	flags := cmd.Flags()
	option.RegisterFlags(flags)

	vp.SetEnvPrefix("accessflow")
	vp.AutomaticEnv()
	if err := vp.BindPFlags(flags); err != nil {
		log.WithError(err).Fatal("Unable to bind flags")
	}
	return cmd
}

func runAgent(cfg *option.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("Invalid log level")
	}
	logging.SetLogLevel(level)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress, registry)
	}

	store := inventory.New()
	cache := flowcache.New()
	mgr := accessflow.New(cfg, cache, store, store, store, store,
		idgen.New(), ctzone.New(cfg.CtZoneMin, cfg.CtZoneMax))
	mgr.Start()
	if cfg.DropLogIface != "" {
		mgr.SetDropLog(cfg.DropLogIface, cfg.DropLogRemoteIP,
			cfg.DropLogRemotePort)
	}
	mgr.ConfigUpdated()
	log.WithField("instanceID", uuid.New().String()).Info("Agent started")

	gc := time.NewTicker(cleanupInterval)
	defer gc.Stop()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-gc.C:
			mgr.Cleanup()
		case s := <-sig:
			log.WithField("signal", s.String()).Info("Shutting down")
			mgr.Stop()
			return
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry,
		promhttp.HandlerOpts{}))
	log.WithField(logfields.Address, addr).Info("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics endpoint failed")
	}
}
