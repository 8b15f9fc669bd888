package api

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mytrade/backtest"
)

// StoredRun is one completed backtest with its assigned id.
type StoredRun struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Result    *backtest.Result `json:"result"`
}

// RunSummary is the list-view projection of a stored run.
type RunSummary struct {
	ID        string                      `json:"id"`
	CreatedAt time.Time                   `json:"created_at"`
	Status    backtest.Status             `json:"status"`
	Symbols   []string                    `json:"symbols"`
	Trades    int                         `json:"trades"`
	Metrics   backtest.PerformanceMetrics `json:"metrics"`
}

// Store keeps the most recent runs in memory, newest first, capped at a
// fixed depth. Optionally persisted to a single JSON file.
type Store struct {
	mu   sync.RWMutex
	runs []*StoredRun
	cap  int
}

// NewStore creates a store keeping at most capacity runs.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 20
	}
	return &Store{cap: capacity}
}

// Put stores a result under a fresh id and returns the stored record.
func (s *Store) Put(res *backtest.Result) *StoredRun {
	run := &StoredRun{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Result:    res,
	}

	s.mu.Lock()
	s.runs = append([]*StoredRun{run}, s.runs...)
	if len(s.runs) > s.cap {
		s.runs = s.runs[:s.cap]
	}
	s.mu.Unlock()
	return run
}

// Get returns the run with the given id.
func (s *Store) Get(id string) (*StoredRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Latest returns the most recent run.
func (s *Store) Latest() (*StoredRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return nil, false
	}
	return s.runs[0], true
}

// List returns summaries, newest first.
func (s *Store) List() []RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, RunSummary{
			ID:        r.ID,
			CreatedAt: r.CreatedAt,
			Status:    r.Result.Status,
			Symbols:   r.Result.Symbols,
			Trades:    len(r.Result.Trades),
			Metrics:   r.Result.Metrics,
		})
	}
	return out
}

// Len reports the number of stored runs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

type persistedRuns struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"saved_at"`
	Items   []*StoredRun `json:"items"`
}

// LoadFromFile restores previously saved runs. A missing file is not an
// error; the store simply starts empty.
func (s *Store) LoadFromFile(path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil
	}

	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(b) == 0 {
		return nil
	}

	var v persistedRuns
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range v.Items {
		if it == nil || it.ID == "" || it.Result == nil {
			continue
		}
		s.runs = append(s.runs, it)
	}
	if len(s.runs) > s.cap {
		s.runs = s.runs[:s.cap]
	}
	return nil
}

// SaveToFile persists the current runs. The write goes through a temp
// file in the same directory so a crash never leaves a torn file.
func (s *Store) SaveToFile(path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	s.mu.RLock()
	payload := persistedRuns{
		Version: 1,
		SavedAt: time.Now(),
		Items:   append([]*StoredRun(nil), s.runs...),
	}
	s.mu.RUnlock()

	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(p)
	tmp, err := os.CreateTemp(dir, ".backtest-runs-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, p)
}
