// Package middleware decorates observation stores.
package middleware

import "github.com/aretw0/mealycache/pkg/ports"

// Middleware allows wrapping an ObservationStore to add behavior.
type Middleware func(ports.ObservationStore) ports.ObservationStore

// Chain applies mws to store, the first one outermost.
func Chain(store ports.ObservationStore, mws ...Middleware) ports.ObservationStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
