// Package metrics is a small struct of atomics fed by Record* calls and
// read back as a JSON-friendly snapshot for a status endpoint. It's a
// value type rather than a package-level global so a process serving
// multiple lanes can keep one collector per lane.
package metrics

import (
	"sync/atomic"
	"time"
)

// UpdateCollector tracks chain-follower throughput: how many blocks were
// processed, how many bucket updates they produced, and how long each took.
type UpdateCollector struct {
	totalBlocks       atomic.Int64
	totalBlockNanos   atomic.Int64
	totalUpdates      atomic.Int64
	lastBlockNumber   atomic.Uint64
	lastBlockNanos    atomic.Int64
	lastUpdatedNanos  atomic.Int64
}

// RecordBlock folds one processed block's stats into the collector.
func (m *UpdateCollector) RecordBlock(blockNumber uint64, updates int, d time.Duration) {
	m.totalBlocks.Add(1)
	m.totalBlockNanos.Add(d.Nanoseconds())
	if updates > 0 {
		m.totalUpdates.Add(int64(updates))
	}
	m.lastBlockNumber.Store(blockNumber)
	m.lastBlockNanos.Store(d.Nanoseconds())
	m.lastUpdatedNanos.Store(time.Now().UnixNano())
}

// UpdateSnapshot is the JSON-friendly read-out of an UpdateCollector.
type UpdateSnapshot struct {
	TotalBlocks     int64   `json:"total_blocks"`
	TotalUpdates    int64   `json:"total_updates"`
	AvgBlockMillis  float64 `json:"avg_block_millis"`
	LastBlockNumber uint64  `json:"last_block_number"`
	LastBlockMillis float64 `json:"last_block_millis"`
	LastUpdated     string  `json:"last_updated"`
}

// Snapshot reads the collector's current state.
func (m *UpdateCollector) Snapshot() UpdateSnapshot {
	blocks := m.totalBlocks.Load()
	blockNanos := m.totalBlockNanos.Load()

	var avgBlockMillis float64
	if blocks > 0 {
		avgBlockMillis = float64(blockNanos) / float64(blocks) / 1e6
	}

	var lastUpdated string
	if nanos := m.lastUpdatedNanos.Load(); nanos > 0 {
		lastUpdated = time.Unix(0, nanos).UTC().Format(time.RFC3339)
	}

	return UpdateSnapshot{
		TotalBlocks:     blocks,
		TotalUpdates:    m.totalUpdates.Load(),
		AvgBlockMillis:  avgBlockMillis,
		LastBlockNumber: m.lastBlockNumber.Load(),
		LastBlockMillis: float64(m.lastBlockNanos.Load()) / 1e6,
		LastUpdated:     lastUpdated,
	}
}

// QueryCollector tracks PIR server query throughput, split by lane and by
// whether the query hit a hint or fell back to a cold query.
type QueryCollector struct {
	totalQueries     atomic.Int64
	coldQueries      atomic.Int64
	totalQueryNanos  atomic.Int64
	lastUpdatedNanos atomic.Int64
}

// RecordQuery folds one served query's stats into the collector.
func (m *QueryCollector) RecordQuery(cold bool, d time.Duration) {
	m.totalQueries.Add(1)
	if cold {
		m.coldQueries.Add(1)
	}
	m.totalQueryNanos.Add(d.Nanoseconds())
	m.lastUpdatedNanos.Store(time.Now().UnixNano())
}

// QuerySnapshot is the JSON-friendly read-out of a QueryCollector.
type QuerySnapshot struct {
	TotalQueries    int64   `json:"total_queries"`
	ColdQueries     int64   `json:"cold_queries"`
	AvgQueryMicros  float64 `json:"avg_query_micros"`
	LastUpdated     string  `json:"last_updated"`
}

// Snapshot reads the collector's current state.
func (m *QueryCollector) Snapshot() QuerySnapshot {
	total := m.totalQueries.Load()
	nanos := m.totalQueryNanos.Load()

	var avgMicros float64
	if total > 0 {
		avgMicros = float64(nanos) / float64(total) / 1e3
	}

	var lastUpdated string
	if n := m.lastUpdatedNanos.Load(); n > 0 {
		lastUpdated = time.Unix(0, n).UTC().Format(time.RFC3339)
	}

	return QuerySnapshot{
		TotalQueries:   total,
		ColdQueries:    m.coldQueries.Load(),
		AvgQueryMicros: avgMicros,
		LastUpdated:    lastUpdated,
	}
}
