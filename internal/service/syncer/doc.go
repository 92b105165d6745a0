/*
Package syncer brings an install root in line with a published manifest.

A run plans the files whose content is missing or differs from the manifest digest,
transfers them while a reporter emits progress on a fixed interval, and finally
reconciles the install root. Reconciliation removes files the manifest no longer
references and commits the install record, and it only happens when every planned
file was fetched and verified. A run with any failed file leaves the previous
install record untouched.

Event order of one run:

	run-started -> (progress-tick | file-fetched | file-error)* -> progress-tick{0,0} -> run-complete

file-fetched carries the running count of verified files. run-complete is published once
reconciliation is over, a complete run whose commit failed reports it in the result's CommitError.
*/
package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manifestsync_runs_total",
		Help: "counter of sync runs by status",
	}, []string{"status"})
	filesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manifestsync_files_fetched_total",
		Help: "counter of files fetched and verified",
	})
	filesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manifestsync_files_failed_total",
		Help: "counter of files that failed to transfer or verify",
	})
	bytesTransferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manifestsync_bytes_transferred_total",
		Help: "counter of bytes received from the content provider, including discarded files",
	})
	orphansRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manifestsync_orphans_removed_total",
		Help: "counter of files removed because the manifest no longer references them",
	})
	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manifestsync_run_duration_seconds",
		Help:    "duration of sync runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	})
)

const (
	runStatusUpToDate   = "up_to_date"
	runStatusCommitted  = "committed"
	runStatusIncomplete = "incomplete"
	runStatusFailed     = "failed"
)
