// internal/storage/leveldb/store.go
package leveldb

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/fawad-mazhar/cmdhub/internal/config"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

const systemPrefix = "system:"

type entry struct {
	Status    models.SystemStatus `json:"status"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// Store keeps the last known status of every system so the hub can warm start.
// Snapshots expire after the configured TTL.
type Store struct {
	db              *leveldb.DB
	ttl             time.Duration
	cleanupInterval time.Duration
	mutex           sync.RWMutex
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

func NewStore(cfg config.LevelDBConfig) (*Store, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024, // 2MB
		WriteBuffer:         1 * 1024 * 1024, // 1MB
	}

	db, err := leveldb.OpenFile(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultLevelDBTTL
	}

	s := &Store{
		db:              db,
		ttl:             ttl,
		cleanupInterval: time.Hour,
		stopCleanup:     make(chan struct{}),
	}

	go s.startCleanupRoutine()

	return s, nil
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		err = s.db.Close()
	})
	return err
}

// SaveStatuses writes every snapshot in one batch, refreshing their expiry
func (s *Store) SaveStatuses(statuses []models.SystemStatus) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	expiresAt := time.Now().Add(s.ttl)
	batch := new(leveldb.Batch)
	for _, status := range statuses {
		data, err := json.Marshal(entry{Status: status, ExpiresAt: expiresAt})
		if err != nil {
			return fmt.Errorf("failed to marshal system %s: %w", status.ID, err)
		}
		batch.Put([]byte(systemPrefix+status.ID), data)
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write snapshots: %w", err)
	}
	return nil
}

// LoadStatuses returns every unexpired snapshot
func (s *Store) LoadStatuses() ([]models.SystemStatus, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	iter := s.db.NewIterator(util.BytesPrefix([]byte(systemPrefix)), nil)
	defer iter.Release()

	now := time.Now()
	var out []models.SystemStatus
	for iter.Next() {
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if now.After(e.ExpiresAt) {
			continue
		}
		out = append(out, e.Status)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return out, nil
}

func (s *Store) startCleanupRoutine() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes expired snapshots and returns how many were deleted
func (s *Store) cleanup() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	iter := s.db.NewIterator(util.BytesPrefix([]byte(systemPrefix)), nil)
	defer iter.Release()

	now := time.Now()
	batch := new(leveldb.Batch)
	for iter.Next() {
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if now.After(e.ExpiresAt) {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}

	if batch.Len() == 0 {
		return 0
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0
	}
	return batch.Len()
}
