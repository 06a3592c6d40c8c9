// Package metrics declares the prometheus collectors shared by octosync components.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "octosync"

func init() {
	prometheus.MustRegister(
		UpdatesPersisted,
		UpdateWriteFailures,
		BlobReads,
		SyncSessions,
		SyncFailures,
		RelayRooms,
		RelayPeers,
		BlobsImported,
	)
}

// UpdatesPersisted counts document updates written by workspace observers.
var UpdatesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "storage",
	Name:      "updates_persisted_total",
	Help:      "Document updates written to the durable store",
})

// UpdateWriteFailures counts observer writes that failed and were dropped.
var UpdateWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "storage",
	Name:      "update_write_failures_total",
	Help:      "Document updates that could not be written and were dropped",
})

// BlobReads counts blob retrievals by result (ok, not_found, error).
var BlobReads = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "storage",
	Name:      "blob_reads_total",
	Help:      "Blob retrievals by result",
}, []string{"result"})

// SyncSessions is the number of live client sync sessions.
var SyncSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "sync",
	Name:      "sessions",
	Help:      "Live client sync sessions",
})

// SyncFailures counts sync sessions that could not be established.
var SyncFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "sync",
	Name:      "failures_total",
	Help:      "Sync sessions that could not be established",
})

// RelayRooms is the number of workspaces loaded by the relay.
var RelayRooms = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "relay",
	Name:      "rooms",
	Help:      "Workspaces loaded by the relay",
})

// RelayPeers is the number of peers connected to the relay.
var RelayPeers = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "relay",
	Name:      "peers",
	Help:      "Peers connected to the relay",
})

// BlobsImported counts files stored as blobs by the importer.
var BlobsImported = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "importer",
	Name:      "blobs_imported_total",
	Help:      "Files stored as blobs by the directory importer",
})
