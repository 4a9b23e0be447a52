package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kimipdb306/scout-tdl/domain"
)

// FileStore persists one board document per user as a flat JSON file.
// The whole document is rewritten on every save; item counts are small
// enough that this stays cheap.
type FileStore struct {
	dir string
}

// New creates a FileStore rooted at dir, creating it if needed.
func New(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage: data dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load reads the user's full item collection. A missing document yields an
// empty board, not an error. The returned slice replaces any prior in-memory
// state; insertion order is the order on disk.
func (s *FileStore) Load(userID string) ([]*domain.Item, error) {
	data, err := os.ReadFile(s.boardPath(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*domain.Item{}, nil
		}
		return nil, fmt.Errorf("storage: read board for %s: %w", userID, err)
	}
	items := []*domain.Item{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("storage: decode board for %s: %w", userID, err)
	}
	return items, nil
}

// Save rewrites the user's document. The write goes to a temp file in the
// same directory followed by a rename so a concurrent reader never observes
// a partial document.
func (s *FileStore) Save(userID string, items []*domain.Item) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode board for %s: %w", userID, err)
	}

	target := s.boardPath(userID)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write board for %s: %w", userID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: sync board for %s: %w", userID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: replace board for %s: %w", userID, err)
	}
	return nil
}

func (s *FileStore) boardPath(userID string) string {
	return filepath.Join(s.dir, sanitizeUserID(userID)+"_board.json")
}

// sanitizeUserID maps identity-provider subjects (which may contain '|', '/'
// and similar) onto a filesystem-safe name.
func sanitizeUserID(userID string) string {
	var b strings.Builder
	b.Grow(len(userID))
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
