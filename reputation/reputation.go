// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package reputation maintains a sliding-window, per-validator score
// derived from observed behavior: headers produced, certificates
// included as parents, and anchors committed. Ranked orders members by
// their current score when called; no snapshot is taken automatically
// at epoch boundaries, and the leader package's reputation-biased
// election consults only the cooldown flag, not the score.
package reputation

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/storage"
)

// Kind is an observed validator behavior that affects its score.
type Kind int

const (
	// Produced records that a validator authored a header this round.
	Produced Kind = iota
	// Included records that a validator's certificate was referenced
	// as a parent by another header.
	Included
	// AnchorCommitted records that a validator's certificate was
	// chosen as a committed anchor.
	AnchorCommitted
)

// DefaultWindow is the number of most recent observations per
// validator retained for scoring.
const DefaultWindow = 50

// DefaultPenaltyWindow is the number of rounds an equivocating
// validator is excluded from leadership.
const DefaultPenaltyWindow = 10

func weightOf(k Kind) int {
	switch k {
	case Produced:
		return 1
	case Included:
		return 2
	case AnchorCommitted:
		return 5
	default:
		return 0
	}
}

type observation struct {
	round uint64
	kind  Kind
}

// Tracker accumulates sliding-window observations per validator,
// answers score rankings, and tracks leadership cooldowns.
type Tracker struct {
	mu     sync.Mutex
	db     iface.Storage
	window int

	history map[ids.NodeID][]observation
	cooldownUntil map[ids.NodeID]uint64
}

// Config bundles Tracker's dependencies and tunables.
type Config struct {
	DB     iface.Storage
	Window int
}

// New constructs a Tracker.
func New(cfg Config) *Tracker {
	w := cfg.Window
	if w <= 0 {
		w = DefaultWindow
	}
	return &Tracker{
		db:            cfg.DB,
		window:        w,
		history:       make(map[ids.NodeID][]observation),
		cooldownUntil: make(map[ids.NodeID]uint64),
	}
}

// Observe records a single behavior observation for id at round,
// trimming the validator's history to the configured window.
func (t *Tracker) Observe(id ids.NodeID, round uint64, kind Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hist := append(t.history[id], observation{round: round, kind: kind})
	if len(hist) > t.window {
		hist = hist[len(hist)-t.window:]
	}
	t.history[id] = hist
}

// Penalize puts id into a leadership cooldown until, but not including,
// round atRound+penaltyWindow, used by the equivocation guard.
func (t *Tracker) Penalize(id ids.NodeID, atRound uint64, penaltyWindow int) {
	if penaltyWindow <= 0 {
		penaltyWindow = DefaultPenaltyWindow
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	until := atRound + uint64(penaltyWindow)
	if cur, ok := t.cooldownUntil[id]; !ok || until > cur {
		t.cooldownUntil[id] = until
	}
}

// Cooldown reports whether id is currently excluded from leadership,
// satisfying leader.ReputationSource.
func (t *Tracker) Cooldown(id ids.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Cooldown is evaluated against the highest round observed for any
	// validator as a proxy for "now"; callers that need round-precise
	// cooldown should use CooldownAt.
	var now uint64
	for _, hist := range t.history {
		if len(hist) > 0 {
			if r := hist[len(hist)-1].round; r > now {
				now = r
			}
		}
	}
	return t.cooldownAtLocked(id, now)
}

// CooldownAt reports whether id is excluded from leadership at round.
func (t *Tracker) CooldownAt(id ids.NodeID, round uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cooldownAtLocked(id, round)
}

func (t *Tracker) cooldownAtLocked(id ids.NodeID, round uint64) bool {
	until, ok := t.cooldownUntil[id]
	return ok && round < until
}

// Score returns id's current weighted score over its retained window.
func (t *Tracker) Score(id ids.NodeID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var score int
	for _, o := range t.history[id] {
		score += weightOf(o.kind)
	}
	return score
}

// Ranked returns members ordered by descending score (ties broken by
// node ID for determinism), computed from the scores at the time of the
// call.
func (t *Tracker) Ranked(members []ids.NodeID) []ids.NodeID {
	t.mu.Lock()
	scores := make(map[ids.NodeID]int, len(members))
	for _, m := range members {
		var s int
		for _, o := range t.history[m] {
			s += weightOf(o.kind)
		}
		scores[m] = s
	}
	t.mu.Unlock()

	out := make([]ids.NodeID, len(members))
	copy(out, members)
	sort.Slice(out, func(i, j int) bool {
		if scores[out[i]] != scores[out[j]] {
			return scores[out[i]] > scores[out[j]]
		}
		return out[i].Compare(out[j]) < 0
	})
	return out
}

// Persist writes id's current score and cooldown horizon at epoch to
// the backing store under storage.ReputationKey.
func (t *Tracker) Persist(epoch uint64, id ids.NodeID) error {
	if t.db == nil {
		return nil
	}
	t.mu.Lock()
	score := 0
	for _, o := range t.history[id] {
		score += weightOf(o.kind)
	}
	cooldown := t.cooldownUntil[id]
	t.mu.Unlock()

	buf := make([]byte, 16)
	putBE64(buf[:8], uint64(int64(score)))
	putBE64(buf[8:], cooldown)
	if err := t.db.Put(storage.ReputationKey(epoch, id), buf); err != nil {
		return errors.Wrap(err, "reputation: persist")
	}
	return nil
}

func putBE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}
