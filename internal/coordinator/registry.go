package coordinator

import (
	"sync"

	cerrors "github.com/dependable-objdb/core/internal/errors"
)

// Registry is a shared {name → Database} map letting several Databases
// coordinate as one process-wide group. Duplicate registration under the
// same name fails. A nil *Registry passed to New creates a private one,
// so the single-database case needs no setup.
type Registry struct {
	mu sync.Mutex
	db map[string]*Database
}

// NewRegistry constructs an empty, shareable registry.
func NewRegistry() *Registry {
	return &Registry{db: make(map[string]*Database)}
}

func (r *Registry) register(name string, db *Database) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.db[name]; exists {
		return cerrors.ErrDuplicateName
	}
	r.db[name] = db
	return nil
}

// Lookup returns the database registered under name, if any.
func (r *Registry) Lookup(name string) (*Database, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.db[name]
	return db, ok
}
