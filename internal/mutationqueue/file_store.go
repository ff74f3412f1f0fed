package mutationqueue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agentworkforce/fieldsync/internal/drainlock"
)

// FileStore keeps the queue in a single JSON document that is rewritten
// through a temp file and rename on every mutation. Every operation re-reads
// the document under an exclusive flock on "<path>.lock", so several
// processes can share one file.
type FileStore struct {
	path   string
	mu     sync.Mutex
	nextID int64
	items  []QueuedMutation
}

type fileStoreState struct {
	NextID int64            `json:"nextId"`
	Items  []QueuedMutation `json:"items"`
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &FileStore{
		path:   path,
		nextID: 1,
		items:  []QueuedMutation{},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Load(ctx context.Context) ([]QueuedMutation, error) {
	var out []QueuedMutation
	err := s.withLock(func() error {
		out = make([]QueuedMutation, 0, len(s.items))
		for _, item := range s.items {
			out = append(out, item.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) Append(ctx context.Context, record QueuedMutation) (int64, error) {
	if err := validateRecord(record); err != nil {
		return 0, err
	}
	var id int64
	err := s.withLock(func() error {
		record = record.Clone()
		record.ID = s.nextID
		s.items = append(s.items, record)
		s.nextID++
		if err := s.saveLocked(); err != nil {
			s.items = s.items[:len(s.items)-1]
			s.nextID--
			return err
		}
		id = record.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *FileStore) Remove(ctx context.Context, id int64) error {
	return s.withLock(func() error {
		idx := -1
		for i, item := range s.items {
			if item.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
		previous := s.items
		s.items = append(append([]QueuedMutation(nil), previous[:idx]...), previous[idx+1:]...)
		if err := s.saveLocked(); err != nil {
			s.items = previous
			return err
		}
		return nil
	})
}

func (s *FileStore) Clear(ctx context.Context) error {
	return s.withLock(func() error {
		previous := s.items
		s.items = []QueuedMutation{}
		if err := s.saveLocked(); err != nil {
			s.items = previous
			return err
		}
		return nil
	})
}

func (s *FileStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.withLock(func() error {
		n = len(s.items)
		return nil
	})
	return n, err
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := drainlock.Exclusive(s.path + ".lock")
	switch {
	case errors.Is(err, drainlock.ErrUnsupported):
		// no flock here; the in-process mutex is all we have
	case err != nil:
		return err
	default:
		defer release()
	}
	if err := s.readLocked(); err != nil {
		return err
	}
	return fn()
}

func (s *FileStore) readLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.items = []QueuedMutation{}
			return nil
		}
		return err
	}
	var snapshot fileStoreState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	s.items = append([]QueuedMutation(nil), snapshot.Items...)
	sort.SliceStable(s.items, func(i, j int) bool { return s.items[i].ID < s.items[j].ID })
	// Never hand out an ID at or below one already issued, either by this
	// handle or by whoever wrote the file.
	if snapshot.NextID > s.nextID {
		s.nextID = snapshot.NextID
	}
	for _, item := range s.items {
		if item.ID >= s.nextID {
			s.nextID = item.ID + 1
		}
	}
	if s.nextID < 1 {
		s.nextID = 1
	}
	return nil
}

func (s *FileStore) saveLocked() error {
	snapshot := fileStoreState{
		NextID: s.nextID,
		Items:  s.items,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
