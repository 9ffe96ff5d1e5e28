package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"ice-telegram/logger"
	"ice-telegram/models"
)

// ProfileStore holds user profiles in memory and snapshots them to a JSON
// file after every change.
type ProfileStore struct {
	path     string
	mu       sync.RWMutex
	profiles map[int64]models.UserProfile
}

// LoadProfileStore reads the snapshot at path. A missing file yields an empty store.
func LoadProfileStore(path string) (*ProfileStore, error) {
	s := &ProfileStore{path: path, profiles: make(map[int64]models.UserProfile)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no profile snapshot found, starting fresh", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var snap map[string]models.UserProfile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode profiles %s: %w", path, err)
	}
	for key, p := range snap {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode profiles %s: bad user id %q", path, key)
		}
		p.UserID = id
		s.profiles[id] = p
	}
	logger.Info("profiles loaded", zap.String("path", path), zap.Int("count", len(s.profiles)))
	return s, nil
}

// Get returns a copy of the profile.
func (s *ProfileStore) Get(userID int64) (*models.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, false
	}
	return &p, true
}

// Save stores the profile and rewrites the snapshot. On a write failure the
// in-memory state is rolled back so memory and disk stay in step.
func (s *ProfileStore) Save(p *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.profiles[p.UserID]
	s.profiles[p.UserID] = *p
	if err := s.writeLocked(); err != nil {
		if had {
			s.profiles[p.UserID] = prev
		} else {
			delete(s.profiles, p.UserID)
		}
		return err
	}
	return nil
}

func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

func (s *ProfileStore) writeLocked() error {
	snap := make(map[string]models.UserProfile, len(s.profiles))
	for id, p := range s.profiles {
		snap[strconv.FormatInt(id, 10)] = p
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return nil
}
