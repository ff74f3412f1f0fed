// Package background hands sync work to a process that outlives the one
// that requested it. Requesters drop intent files into a spool directory
// and an Agent watching that directory runs the drain.
package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const intentSuffix = ".intent"

type Logger interface {
	Printf(format string, args ...any)
}

// Intent is one pending request to run a drain. Registering the same tag
// again before the agent picks it up replaces the earlier intent.
type Intent struct {
	ID           string    `json:"id"`
	Tag          string    `json:"tag"`
	RegisteredAt time.Time `json:"registeredAt"`
	Attempt      int       `json:"attempt"`
}

type Spool struct {
	Dir string
	now func() time.Time
}

func NewSpool(dir string) *Spool {
	return &Spool{Dir: dir}
}

// Supported reports whether the spool directory exists and is a directory.
// Without it dispatches fall back to an in-process drain.
func (s *Spool) Supported() bool {
	if s == nil || strings.TrimSpace(s.Dir) == "" {
		return false
	}
	info, err := os.Stat(s.Dir)
	return err == nil && info.IsDir()
}

func (s *Spool) RegisterIntent(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.write(Intent{Tag: tag, Attempt: 1})
	return err
}

func (s *Spool) write(intent Intent) (Intent, error) {
	tag := strings.TrimSpace(intent.Tag)
	if tag == "" {
		return Intent{}, errors.New("sync tag is required")
	}
	if !s.Supported() {
		return Intent{}, fmt.Errorf("spool directory %q is not available", s.Dir)
	}
	now := time.Now().UTC()
	if s.now != nil {
		now = s.now()
	}
	intent.Tag = tag
	intent.ID = uuid.NewString()
	intent.RegisteredAt = now
	if intent.Attempt < 1 {
		intent.Attempt = 1
	}
	data, err := json.Marshal(intent)
	if err != nil {
		return Intent{}, err
	}
	if err := writeFileAtomic(intentPath(s.Dir, tag), data, 0o644); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

func intentPath(dir, tag string) string {
	return filepath.Join(dir, sanitizeTag(tag)+intentSuffix)
}

func sanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
