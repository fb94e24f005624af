// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes the prometheus collectors the Consensus
// Runner and its components update as they process headers, votes,
// certificates, and anchors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the runner touches. All fields are
// safe to use at their zero value registration state: construct with
// New, which performs the actual registration.
type Metrics struct {
	Registry prometheus.Registerer

	HeadersBuilt        prometheus.Counter
	CertificatesFormed  prometheus.Counter
	CertificatesInserted prometheus.Counter
	AnchorsCommitted    prometheus.Counter
	AnchorsSkipped      prometheus.Counter
	EquivocationsFound  prometheus.Counter
	SyncRequestsSent    prometheus.Counter
	SyncStalls          prometheus.Counter

	RoundDuration  Averager
	CommitLatency  Averager
	DAGSize        prometheus.Gauge
}

// New registers and returns the consensus metrics set against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Registry: reg,
		HeadersBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_headers_built_total",
			Help: "Number of headers this node has built and proposed.",
		}),
		CertificatesFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_certificates_formed_total",
			Help: "Number of certificates assembled locally after reaching quorum votes.",
		}),
		CertificatesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_certificates_inserted_total",
			Help: "Number of certificates inserted into the DAG store, local or remote.",
		}),
		AnchorsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_anchors_committed_total",
			Help: "Number of anchor certificates committed by the ordering engine.",
		}),
		AnchorsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_anchors_skipped_total",
			Help: "Number of anchor candidates skipped for lack of next-round support.",
		}),
		EquivocationsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_equivocations_total",
			Help: "Number of equivocation proofs recorded.",
		}),
		SyncRequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_sync_requests_total",
			Help: "Number of FetchMissing requests sent to peers.",
		}),
		SyncStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_sync_stalls_total",
			Help: "Number of times the synchronizer parked a request on budget exhaustion.",
		}),
		DAGSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consensus_dag_certificates",
			Help: "Number of certificates currently held in the DAG store.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.HeadersBuilt, m.CertificatesFormed, m.CertificatesInserted,
		m.AnchorsCommitted, m.AnchorsSkipped, m.EquivocationsFound,
		m.SyncRequestsSent, m.SyncStalls, m.DAGSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	roundDuration, err := NewAverager("consensus_round_duration_seconds", "round duration in seconds", reg)
	if err != nil {
		return nil, err
	}
	m.RoundDuration = roundDuration

	commitLatency, err := NewAverager("consensus_commit_latency_seconds", "seconds between anchor proposal and commit", reg)
	if err != nil {
		return nil, err
	}
	m.CommitLatency = commitLatency

	return m, nil
}
