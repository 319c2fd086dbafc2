package coordinator

import (
	"context"

	"go.uber.org/zap"
)

// consumeBus relays remote invalidation events onto this process's own
// pools. Events this process published itself are recognized by
// CommitterID and dropped, since invalidateLocked already ran them
// locally at publish time.
func (db *Database) consumeBus(ctx context.Context) {
	events, err := db.bus.Subscribe(ctx)
	if err != nil {
		db.logger.Error("invalidation bus subscribe failed", zap.Error(err))
		return
	}
	for ev := range events {
		if ev.CommitterID == db.processID() {
			continue
		}
		db.mu.Lock()
		if !db.closed {
			db.invalidateLocked(ev.TID, ev.OIDs, nil)
		}
		db.mu.Unlock()
	}
}
