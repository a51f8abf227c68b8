package engine

import (
	"fmt"

	"github.com/IceNet-01/LNK-22-sub000/internal/store"
)

// Shutdown persists the pieces of engine state that must survive a
// restart (spec §5, §6): the AEAD nonce counter (so no nonce is ever
// reused) and a warm-start snapshot of the route table.
func (e *Engine) Shutdown() error {
	if err := e.crypto.PersistNonceNow(); err != nil {
		return fmt.Errorf("engine: persist nonce on shutdown: %w", err)
	}
	b, err := encodeRouteCache(e.routes.All())
	if err != nil {
		return err
	}
	if err := e.kv.Store(store.KeyRouteCache, b); err != nil {
		return fmt.Errorf("engine: persist route cache on shutdown: %w", err)
	}
	return nil
}
