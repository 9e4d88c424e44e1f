// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package metrics holds the agent's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes all agent metrics.
const Namespace = "accessflow"

// Label values for Recomputations.
const (
	KindEndpoint    = "endpoint"
	KindSecGroupSet = "secgroup_set"
	KindDropLog     = "droplog"
	KindDscp        = "dscp"
	KindStatic      = "static"
)

var (
	// Recomputations counts flow recomputations by trigger kind.
	Recomputations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "recomputations_total",
		Help:      "Number of flow recomputations by trigger kind",
	}, []string{"kind"})

	// FlowEntriesWritten counts entries handed to the sync layer.
	FlowEntriesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "flow_entries_written_total",
		Help:      "Number of flow entries handed to the table sync layer",
	})

	// TaskQueueDepth is the number of keys with queued or running work.
	TaskQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "task_queue_depth",
		Help:      "Number of keys with queued or in-flight work",
	})

	// TaskRunDuration observes task execution time.
	TaskRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "task_run_duration_seconds",
		Help:      "Duration of dispatched task executions",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	// SecGroupSetIDs is the number of live security-group-set ids.
	SecGroupSetIDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "secgroup_set_ids",
		Help:      "Number of allocated security-group-set identifiers",
	})
)

// Register attaches all collectors to the given registerer.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		Recomputations,
		FlowEntriesWritten,
		TaskQueueDepth,
		TaskRunDuration,
		SecGroupSetIDs,
	)
}
