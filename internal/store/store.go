package store

import (
	"gorm.io/gorm"
)

type Store interface {
	Journal() Journal
	Close() error
}

type DataStore struct {
	db      *gorm.DB
	journal Journal
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:      db,
		journal: NewJournal(db),
	}
}

func (s *DataStore) Journal() Journal {
	return s.journal
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
