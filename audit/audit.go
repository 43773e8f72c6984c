// audit/audit.go
package audit

import (
	"sync"

	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
	"gorm.io/gorm"
)

// Sink receives one entry per applied operation (connect, periodic,
// disconnect, crash recovery) and per stale-recovery skip. Attempts the
// engine rejects (validation, unknown player, ownership, sequence, connect
// contention) produce no entry. Record joins the caller's transaction so an
// entry commits together with the data it describes.
type Sink interface {
	Record(tx *gorm.DB, entry *models.AuditEntry) error
}

// StoreSink writes entries through the persistence layer.
type StoreSink struct {
	store persistence.Store
}

func NewStoreSink(store persistence.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Record(tx *gorm.DB, entry *models.AuditEntry) error {
	return s.store.AppendAudit(tx, entry)
}

// MemorySink captures entries for tests.
type MemorySink struct {
	mu      sync.Mutex
	Entries []models.AuditEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(tx *gorm.DB, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, *entry)
	return nil
}

// Last returns the most recent entry, or nil.
func (m *MemorySink) Last() *models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return nil
	}
	entry := m.Entries[len(m.Entries)-1]
	return &entry
}

// ByKind returns all captured entries of the given kind.
func (m *MemorySink) ByKind(kind string) []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range m.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
