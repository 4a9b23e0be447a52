package board

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/kimipdb306/scout-tdl/storage"
)

// Registry hands out one Engine per user. Boards are loaded on first touch
// and stay resident for the life of the process; handlers receive the
// registry by injection rather than reaching for ambient state.
type Registry struct {
	store  *storage.FileStore
	logger *log.Logger

	mu     sync.Mutex
	boards map[string]*Engine
}

// NewRegistry creates an empty registry over the given store.
func NewRegistry(store *storage.FileStore, logger *log.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		boards: make(map[string]*Engine),
	}
}

// Board returns the user's engine, loading the persisted board on first use.
func (r *Registry) Board(userID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if engine, ok := r.boards[userID]; ok {
		return engine, nil
	}
	engine, err := NewEngine(userID, r.store, r.logger)
	if err != nil {
		return nil, err
	}
	r.boards[userID] = engine
	r.logger.WithField("user", userID).Debug("board loaded")
	return engine, nil
}
