package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"multistrat/internal/errors"
	"multistrat/internal/schema"

	"github.com/shopspring/decimal"
)

// Snapshot captures the full ledger state at a point in time. It is written
// on shutdown and on interval so a restart only has to replay the journal
// tail.
type Snapshot struct {
	Timestamp    int64                      `json:"timestamp"`
	Positions    []schema.Position          `json:"positions"`
	Cash         map[string]decimal.Decimal `json:"cash"`
	AppliedFills []string                   `json:"appliedFills"`
}

// Snapshot builds a snapshot from the current books.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fills := make([]string, 0, len(l.applied))
	for id := range l.applied {
		fills = append(fills, id)
	}
	sort.Strings(fills)

	cash := make(map[string]decimal.Decimal, len(l.cash))
	for name, balance := range l.cash {
		cash[name] = balance
	}

	positions := make([]schema.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Symbol != positions[j].Symbol {
			return positions[i].Symbol < positions[j].Symbol
		}
		if positions[i].Strategy != positions[j].Strategy {
			return positions[i].Strategy < positions[j].Strategy
		}
		return positions[i].AssetClass < positions[j].AssetClass
	})

	return Snapshot{
		Timestamp:    time.Now().UTC().UnixNano(),
		Positions:    positions,
		Cash:         cash,
		AppliedFills: fills,
	}
}

// Restore replaces the books with a snapshot.
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[schema.PositionKey]schema.Position, len(s.Positions))
	for _, pos := range s.Positions {
		l.positions[pos.Key()] = pos
	}
	l.cash = make(map[string]decimal.Decimal, len(s.Cash))
	for name, balance := range s.Cash {
		l.cash[name] = balance
	}
	l.applied = make(map[string]struct{}, len(s.AppliedFills))
	for _, id := range s.AppliedFills {
		l.applied[id] = struct{}{}
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal ledger snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "unmarshal ledger snapshot")
	}
	return snap, nil
}
