// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PathSequenced = "sequenced"
	PathLegacy    = "legacy"
)

var (
	initOnce sync.Once

	eventsIngestedCounter    *prometheus.CounterVec
	eventsEmittedCounter     prometheus.Counter
	duplicatesDroppedCounter prometheus.Counter
	forcedFlushCounter       prometheus.Counter
	unknownStreamCounter     *prometheus.CounterVec
	openStreamsGauge         prometheus.Gauge
	pendingEventsGauge       prometheus.Gauge
	followerPollsCounter     *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsIngestedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_ingested_total",
				Help: "Total number of log events received by ingest path.",
			},
			[]string{"path"},
		)

		eventsEmittedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_events_emitted_total",
				Help: "Total number of log events appended to ordered transcripts.",
			},
		)

		duplicatesDroppedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_duplicates_dropped_total",
				Help: "Total number of log events discarded as already-emitted sequences.",
			},
		)

		forcedFlushCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_forced_flush_events_total",
				Help: "Total number of buffered events appended on completion despite gaps.",
			},
		)

		unknownStreamCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_unknown_execution_ops_total",
				Help: "Total number of operations addressed to an execution stream that is not open.",
			},
			[]string{"op"},
		)

		openStreamsGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stream_open_streams",
				Help: "Number of execution streams currently held in memory across all stores.",
			},
		)

		pendingEventsGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stream_pending_events",
				Help: "Number of events buffered ahead of their expected sequence across all streams.",
			},
		)

		followerPollsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "follower_polls_total",
				Help: "Total number of follower polls against the execution store by outcome.",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			eventsIngestedCounter,
			eventsEmittedCounter,
			duplicatesDroppedCounter,
			forcedFlushCounter,
			unknownStreamCounter,
			openStreamsGauge,
			pendingEventsGauge,
			followerPollsCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, path := range []string{PathSequenced, PathLegacy} {
			eventsIngestedCounter.WithLabelValues(path)
		}
		for _, outcome := range []string{"ok", "error", "complete", "not_found"} {
			followerPollsCounter.WithLabelValues(outcome)
		}
	})
}

func AddEventsIngested(path string, n int) {
	Init()
	eventsIngestedCounter.WithLabelValues(path).Add(float64(n))
}

func AddEventsEmitted(n int) {
	Init()
	eventsEmittedCounter.Add(float64(n))
}

func AddDuplicatesDropped(n int) {
	Init()
	duplicatesDroppedCounter.Add(float64(n))
}

func AddForcedFlush(n int) {
	Init()
	forcedFlushCounter.Add(float64(n))
}

func IncUnknownStream(op string) {
	Init()
	unknownStreamCounter.WithLabelValues(op).Inc()
}

func AddOpenStreams(delta int) {
	Init()
	openStreamsGauge.Add(float64(delta))
}

func AddPendingEvents(delta int) {
	Init()
	pendingEventsGauge.Add(float64(delta))
}

func IncFollowerPoll(outcome string) {
	Init()
	followerPollsCounter.WithLabelValues(outcome).Inc()
}
