package monitor

import (
	"log/slog"
	"sync"

	"rail_sniper/internal/domain"
)

// StateStore holds the last observed normalized count per fingerprint.
// Injected so detection runs can coexist and be tested in isolation.
type StateStore interface {
	Get(fp domain.Fingerprint) (count int, ok bool)
	Put(fp domain.Fingerprint, count int)
}

// MemoryStore is the default StateStore. Fingerprints are partitioned by
// target+date+train+seat so writers never collide in practice, but access
// is still serialized in case two targets are misconfigured to overlap.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[domain.Fingerprint]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[domain.Fingerprint]int)}
}

func (s *MemoryStore) Get(fp domain.Fingerprint) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[fp]
	return n, ok
}

func (s *MemoryStore) Put(fp domain.Fingerprint, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[fp] = count
}

// Detector compares fresh snapshots against the last known counts and
// emits a ChangeEvent per fingerprint whose count moved.
type Detector struct {
	store  StateStore
	logger *slog.Logger
}

// NewDetector creates a detector over the given state store.
func NewDetector(store StateStore) *Detector {
	return &Detector{
		store:  store,
		logger: slog.Default().With("module", "detector"),
	}
}

// Detect walks trains in poll order and seat classes in the target's
// priority order, so the first emitted event for a train is the
// highest-priority class that changed. The store is updated after every
// comparison whether or not an event was emitted; a fingerprint absent from
// the store always emits, establishing the baseline.
func (d *Detector) Detect(snaps []*domain.SeatSnapshot, target *domain.MonitorTarget) []domain.ChangeEvent {
	var events []domain.ChangeEvent

	for _, snap := range snaps {
		if !target.WantsTrain(snap.TrainCode) {
			continue
		}
		for _, class := range target.SeatClasses {
			fp := target.Fingerprint(snap.TrainCode, class)
			current := snap.Count(class)

			previous, seen := d.store.Get(fp)
			if !seen || previous != current {
				prev := previous
				if !seen {
					prev = -1
				}
				events = append(events, domain.ChangeEvent{
					Fingerprint: fp,
					Previous:    prev,
					Current:     current,
					HasTicket:   current > 0,
					Snapshot:    snap,
				})
				d.logger.Info("availability changed",
					slog.String("fingerprint", fp.String()),
					slog.Int("previous", prev),
					slog.Int("current", current),
				)
			}
			d.store.Put(fp, current)
		}
	}
	return events
}
