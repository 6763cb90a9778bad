package locator

import (
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&Load{},
		&Driver{},
		&Location{},
		&DriverLocation{},
		&LocationAlias{},
		&UnknownDriver{},
		&Conversation{},
		&Message{},
		&IngestedFile{},
	); err != nil {
		return nil, err
	}
	return db, nil
}

// Store bundles the graph, staging, and normalizer operations around one DB
// handle plus the flattened gazetteer (nil when no datasets are configured).
type Store struct {
	db        *gorm.DB
	gazetteer *Gazetteer
	Debug     bool
}

func NewStore(db *gorm.DB, g *Gazetteer) *Store {
	return &Store{db: db, gazetteer: g}
}

func (s *Store) debugf(format string, args ...any) {
	if s == nil || !s.Debug {
		return
	}
	log.Printf(format, args...)
}
