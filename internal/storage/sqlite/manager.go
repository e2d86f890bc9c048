package sqlite

import (
	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
)

// Manager bundles the SQLite-backed stores behind one connection lifecycle.
type Manager struct {
	db            *DB
	jobs          interfaces.JobStorage
	images        interfaces.ImageStorage
	chunks        interfaces.ChunkStorage
	projects      interfaces.ProjectStorage
	notifications interfaces.NotificationStorage
}

// NewManager opens the database and wires the per-entity stores.
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (*Manager, error) {
	db, err := NewDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:            db,
		jobs:          NewJobStorage(db, logger),
		images:        NewImageStorage(db, logger),
		chunks:        NewChunkStorage(db, logger),
		projects:      NewProjectStorage(db, logger),
		notifications: NewNotificationStorage(db, logger),
	}, nil
}

// DB exposes the connection wrapper for the queue layer, which shares the
// same SQLite file.
func (m *Manager) DB() *DB {
	return m.db
}

func (m *Manager) Jobs() interfaces.JobStorage                   { return m.jobs }
func (m *Manager) Images() interfaces.ImageStorage               { return m.images }
func (m *Manager) Chunks() interfaces.ChunkStorage               { return m.chunks }
func (m *Manager) Projects() interfaces.ProjectStorage           { return m.projects }
func (m *Manager) Notifications() interfaces.NotificationStorage { return m.notifications }

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	return m.db.Close()
}
