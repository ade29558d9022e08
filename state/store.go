package state

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store persists a Snapshot. Save rewrites every entity; Load returns
// ErrNoState when nothing was ever saved.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Reset(ctx context.Context) error
	Close() error
}

// Entity names, one persisted record each.
const (
	EntityMemory          = "memory"
	EntityPendingBreakout = "pending_breakout"
	EntityPendingEntry    = "pending_entry"
	EntityPosition        = "position"
	EntityCooldown        = "cooldown"
)

// entities is the write order. A save interrupted part way must not
// allow a fresh entry: the cooldown lands before a closed position is
// dropped, and a new position lands before the pending signals it
// replaces are cleared. A position left next to pending signals fails
// Snapshot.Check and is repaired with ClearPending.
var entities = []string{EntityMemory, EntityCooldown, EntityPosition, EntityPendingEntry, EntityPendingBreakout}

// encode splits a snapshot into its per-entity JSON records. Absent
// optional entities encode as "null".
func encode(s Snapshot) (map[string][]byte, error) {
	parts := map[string]any{
		EntityMemory:          s.Memory,
		EntityPendingBreakout: s.Breakout,
		EntityPendingEntry:    s.Entry,
		EntityPosition:        s.Position,
		EntityCooldown:        s.Cooldown,
	}
	out := make(map[string][]byte, len(parts))
	for name, v := range parts {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

// decode rebuilds a snapshot from whichever records exist.
func decode(records map[string][]byte) (Snapshot, error) {
	var s Snapshot
	targets := map[string]any{
		EntityMemory:          &s.Memory,
		EntityPendingBreakout: &s.Breakout,
		EntityPendingEntry:    &s.Entry,
		EntityPosition:        &s.Position,
		EntityCooldown:        &s.Cooldown,
	}
	for name, b := range records {
		dst, ok := targets[name]
		if !ok || len(b) == 0 {
			continue
		}
		if err := json.Unmarshal(b, dst); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return s, nil
}
