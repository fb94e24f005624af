// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/luxfi/dagconsensus/config"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/metrics"
	"github.com/luxfi/dagconsensus/runner"
	"github.com/luxfi/dagconsensus/storage"
	"github.com/luxfi/dagconsensus/wire"
)

// Topic names must match the ones runner.Runner broadcasts on
// internally (runner/runner.go's topicHeaders/topicCertificates).
const (
	topicHeaders      = "consensus/headers"
	topicCertificates = "consensus/certificates"
)

func runCmd() *cobra.Command {
	var (
		nodeCount int
		rounds    int
		preset    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a local multi-validator simulation",
		Long: `run wires N validators together over an in-process transport hub and
drives them for a fixed number of rounds, logging every certificate the
ordering engine delivers, in delivery order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := presetByName(preset)
			if err != nil {
				return err
			}
			return simulate(cmd.Context(), nodeCount, rounds, params)
		},
	}

	cmd.Flags().IntVar(&nodeCount, "nodes", 4, "number of validators to run")
	cmd.Flags().IntVar(&rounds, "rounds", 20, "number of rounds to drive")
	cmd.Flags().StringVar(&preset, "preset", "local", "parameter preset: mainnet, testnet, local")

	return cmd
}

func presetByName(name string) (config.Parameters, error) {
	switch name {
	case "mainnet":
		return config.Mainnet(), nil
	case "testnet":
		return config.Testnet(), nil
	case "local":
		return config.Local(), nil
	default:
		return config.Parameters{}, fmt.Errorf("unknown preset %q", name)
	}
}

type staticEpochs struct{ members []ids.NodeID }

func (s staticEpochs) CommitteeFor(epoch uint64) (iface.Members, error) {
	return iface.Members{Members: s.members}, nil
}
func (s staticEpochs) EpochOf(round uint64) uint64 { return 0 }

// simulate wires n validators over an in-process hub and ticks them
// for the given number of rounds, letting headers, votes and
// certificates flow over the real iface.Transport surface (as opposed
// to the direct-call harness used by the runner package's own
// scenario tests).
func simulate(parent context.Context, n, rounds int, params config.Parameters) error {
	if n < 1 {
		return fmt.Errorf("nodes must be >= 1")
	}
	l := log.NewLogger("validator")
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	members := make([]ids.NodeID, n)
	for i := range members {
		var id ids.NodeID
		id[0] = byte(i + 1)
		members[i] = id
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Compare(members[j]) < 0 })

	bus := newHub()
	nodes := make(map[ids.NodeID]*runner.Runner, n)
	for _, self := range members {
		db := storage.NewMem()
		transport := bus.transportFor(self)
		// Each simulated node gets its own registry: metrics.New
		// registers fixed collector names that would collide if two
		// nodes shared one registry in this single process.
		m, err := metrics.New(prometheus.NewRegistry())
		if err != nil {
			return fmt.Errorf("node %s metrics: %w", self, err)
		}
		nodes[self] = runner.Build(self, staticEpochs{members: members}, db, transport, nil, nil, l, params, m)
	}

	var wg sync.WaitGroup
	for _, self := range members {
		self, r := self, nodes[self]
		r.OnDeliver = func(d wire.Digest, cert *wire.Certificate) {
			l.Info("certificate delivered", "node", self, "round", cert.Header.Round, "author", cert.Header.Author, "digest", d)
		}

		bus.registerHandler(self, func(payload []byte) ([]byte, error) {
			env, err := unmarshalEnvelope(payload)
			if err != nil {
				return nil, err
			}
			switch env.Kind {
			case kindSyncRequest:
				req, err := unmarshalSyncRequest(env.Body)
				if err != nil {
					return nil, err
				}
				return marshalSyncResponse(r.HandleSyncRequest(req))
			case kindVote:
				vote, err := unmarshalVote(env.Body)
				if err != nil {
					return nil, err
				}
				if _, err := r.HandleVote(ctx, vote); err != nil {
					l.Warn("node dropped a vote", "node", self, "err", err)
				}
				return nil, nil
			default:
				return nil, fmt.Errorf("hub: unknown envelope kind %q", env.Kind)
			}
		})

		headerCh, err := bus.transportFor(self).Subscribe(ctx, topicHeaders)
		if err != nil {
			return err
		}
		certCh, err := bus.transportFor(self).Subscribe(ctx, topicCertificates)
		if err != nil {
			return err
		}

		wg.Add(1)
		go receiveLoop(ctx, &wg, l, bus, self, r, headerCh, certCh)
	}

	for round := 0; round < rounds; round++ {
		for _, self := range members {
			if _, _, err := nodes[self].Tick(ctx); err != nil {
				return fmt.Errorf("node %s tick: %w", self, err)
			}
		}
		time.Sleep(params.MinHeaderInterval)
	}

	cancel()
	wg.Wait()
	return nil
}

// receiveLoop processes inbound broadcast headers and certificates
// for one validator until ctx is cancelled.
func receiveLoop(ctx context.Context, wg *sync.WaitGroup, l log.Logger, bus *hub, self ids.NodeID, r *runner.Runner, headerCh, certCh <-chan iface.InboundMessage) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-headerCh:
			h, err := unmarshalHeader(msg.Payload)
			if err != nil {
				continue
			}
			vote, equiv, err := r.HandleDraftHeader(h)
			if err != nil || equiv != nil || vote == nil {
				continue
			}
			payload, err := marshalEnvelope(kindVote, vote)
			if err != nil {
				continue
			}
			if _, err := bus.transportFor(self).Send(ctx, h.Author, payload); err != nil {
				l.Warn("node failed to send vote", "node", self, "err", err)
			}
		case msg := <-certCh:
			cert, err := unmarshalCertificate(msg.Payload)
			if err != nil {
				continue
			}
			if _, err := r.IngestCertificate(ctx, cert); err != nil {
				l.Warn("node failed to ingest certificate", "node", self, "err", err)
			}
		}
	}
}
