package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"
)

// FileStore persists one JSON snapshot per session under a base directory.
type FileStore struct {
	dir   string
	log   *slog.Logger
	clock clockwork.Clock
}

// NewFileStore creates the base directory if needed. The logger may be nil.
func NewFileStore(dir string, log *slog.Logger, clock clockwork.Clock) (*FileStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir, log: log, clock: clock}, nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

// Create builds a new session and persists it immediately.
func (fs *FileStore) Create(ctx context.Context, request string) (*Session, error) {
	s := New(request)
	if err := fs.Save(ctx, s); err != nil {
		return nil, err
	}
	if fs.log != nil {
		fs.log.Info("created session", "id", s.ID)
	}
	return s, nil
}

// Save writes the full snapshot, replacing any prior one. The write goes
// through a temp file and rename so a crash mid-write never corrupts the
// previous checkpoint.
func (fs *FileStore) Save(_ context.Context, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	tmp, err := os.CreateTemp(fs.dir, s.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close session file %s: %w", s.ID, err)
	}
	if err := os.Rename(tmp.Name(), fs.path(s.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename session file %s: %w", s.ID, err)
	}
	return nil
}

// Load reads the snapshot for the id, returning ErrNotFound when absent.
func (fs *FileStore) Load(_ context.Context, id string) (*Session, error) {
	data, err := os.ReadFile(fs.path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &s, nil
}

// List returns session summaries ordered by last update, newest first.
func (fs *FileStore) List(ctx context.Context, statusFilter Status, limit int) ([]Summary, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	var summaries []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s, err := fs.Load(ctx, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			if fs.log != nil {
				fs.log.Warn("skipping unreadable session file", "file", e.Name(), "error", err)
			}
			continue
		}
		if statusFilter != "" && s.Status() != statusFilter {
			continue
		}
		summaries = append(summaries, Summary{
			ID:          s.ID,
			CreatedAt:   s.CreatedAt,
			LastUpdated: s.LastUpdated,
			Status:      s.Status(),
			Request:     s.Request,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastUpdated.After(summaries[j].LastUpdated)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Delete removes the snapshot. Deleting a missing session is not an error.
func (fs *FileStore) Delete(_ context.Context, id string) error {
	err := os.Remove(fs.path(id))
	if os.IsNotExist(err) {
		if fs.log != nil {
			fs.log.Warn("session not found for deletion", "id", id)
		}
		return nil
	}
	return err
}

// Sweep deletes terminal sessions older than the per-status retention age.
// Non-terminal sessions are never swept.
func (fs *FileStore) Sweep(ctx context.Context, policy RetentionPolicy) (int, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return 0, fmt.Errorf("read session dir: %w", err)
	}

	now := fs.clock.Now()
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		s, err := fs.Load(ctx, id)
		if err != nil {
			continue
		}

		var maxAge = policy.CompletedAge
		switch s.Status() {
		case StatusCompleted:
			maxAge = policy.CompletedAge
		case StatusFailed:
			maxAge = policy.FailedAge
		default:
			continue
		}
		if maxAge <= 0 {
			continue
		}

		if now.Sub(s.LastUpdated) > maxAge {
			if err := fs.Delete(ctx, id); err != nil {
				return deleted, fmt.Errorf("sweep session %s: %w", id, err)
			}
			deleted++
			if fs.log != nil {
				fs.log.Info("swept expired session", "id", id, "status", s.Status())
			}
		}
	}
	return deleted, nil
}
