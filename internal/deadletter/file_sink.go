package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lechuhuuha/memcload/internal/domain"
	"github.com/lechuhuuha/memcload/util"
)

// FileSink appends letters as NDJSON under <dir>/<date>/<source file>.deadletter.json.
type FileSink struct {
	baseDir   string
	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

func NewFileSink(baseDir string) *FileSink {
	return &FileSink{
		baseDir:   baseDir,
		fileLocks: make(map[string]*sync.Mutex),
	}
}

func (s *FileSink) Write(ctx context.Context, letters []domain.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}

	grouped := make(map[string][]domain.DeadLetter)
	for _, l := range letters {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := s.pathFor(l)
		grouped[path] = append(grouped[path], l)
	}

	for path, group := range grouped {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dead letter directory: %w", err)
		}
		if err := s.appendLetters(path, group); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSink) Close() error { return nil }

func (s *FileSink) pathFor(l domain.DeadLetter) string {
	source := strings.TrimSpace(filepath.Base(l.File))
	if source == "" || source == "." || source == string(filepath.Separator) {
		source = "unknown"
	}
	return filepath.Join(s.baseDir, l.Time.UTC().Format(util.DateLayout), source+".deadletter.json")
}

func (s *FileSink) appendLetters(path string, letters []domain.DeadLetter) error {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open dead letter file: %w", err)
	}
	defer file.Close()

	for _, l := range letters {
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("marshal dead letter: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write dead letter: %w", err)
		}
	}
	return nil
}

func (s *FileSink) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.fileLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.fileLocks[path] = lock
	}
	return lock
}
