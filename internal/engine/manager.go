package engine

import (
	"strings"
	"sync"

	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
)

// Manager owns every open Database in one map keyed by name. It takes the
// place of the teacher's Catalog registry without the Catalog's id index or
// its on-disk binary entry log — persistence here is the caller's
// (internal/storage) responsibility.
type Manager struct {
	mu  sync.RWMutex
	dbs map[string]*Database
}

func NewManager() *Manager {
	return &Manager{dbs: make(map[string]*Database)}
}

// SanitizeName replaces any character unsafe in a directory name with '_'.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// CreateDb is idempotent: creating an already-open database is a no-op.
func (m *Manager) CreateDb(name string) (*Database, error) {
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return nil, pdberrors.New("engine.CreateDb", pdberrors.KindValidation, pdberrors.ErrInvalidDBName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if db, exists := m.dbs[sanitized]; exists {
		return db, nil
	}
	db := newDatabase(sanitized)
	m.dbs[sanitized] = db
	return db, nil
}

// DeleteDb removes db's in-memory state. Deleting an absent database is
// not an error (spec.md §4.3: "(none; absent = ok)").
func (m *Manager) DeleteDb(name string) error {
	sanitized := SanitizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dbs, sanitized)
	return nil
}

func (m *Manager) Get(name string) (*Database, bool) {
	sanitized := SanitizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	db, ok := m.dbs[sanitized]
	return db, ok
}

// GetOrCreate returns the database for name, opening it if this is the
// first reference — the path recovery uses for each data-root subdirectory.
func (m *Manager) GetOrCreate(name string) *Database {
	db, _ := m.CreateDb(name)
	return db
}

func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.dbs))
	for name := range m.dbs {
		names = append(names, name)
	}
	return names
}
