package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "gcpacer/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Records are appended to <prefix>.collections.jsonl. The most recent keep
// records are mirrored in memory, and once the file holds twice that many
// lines it is compacted down to the in-memory tail.
type fileStore struct {
	log  logx.Logger
	path string
	keep int

	mu     sync.Mutex
	f      *os.File
	recent []CollectionRecord // ring, oldest first once full
	head   int
	lines  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:  log,
		path: filepath.Join(dir, base) + ".collections.jsonl",
		keep: cfg.keep(),
	}
	s.recent = make([]CollectionRecord, 0, s.keep)
	if err := s.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	if s.lines >= 2*s.keep {
		if err := s.compactLocked(); err != nil {
			log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return s, nil
}

// replay loads the tail of an existing journal. Undecodable lines (a torn
// final write) are skipped.
func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	skipped := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		s.lines++
		var rec CollectionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		s.pushLocked(rec)
	}
	if skipped > 0 {
		s.log.Warn("journal lines skipped", logx.Int("count", skipped), logx.String("path", s.path))
	}
	return sc.Err()
}

func (s *fileStore) pushLocked(rec CollectionRecord) {
	if len(s.recent) < s.keep {
		s.recent = append(s.recent, rec)
		return
	}
	s.recent[s.head] = rec
	s.head = (s.head + 1) % s.keep
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendCollection(ctx context.Context, rec CollectionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("collection journal closed")
	}
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.pushLocked(rec)
	s.lines++
	if s.lines >= 2*s.keep {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentCollections(ctx context.Context, limit int) ([]CollectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recent)
	limit = min(clampLimit(limit, s.keep), n)
	out := make([]CollectionRecord, 0, limit)
	for i := 0; i < limit; i++ {
		// Newest is just behind head.
		out = append(out, s.recent[(s.head-1-i+2*n)%n])
	}
	return out, nil
}

// compactLocked rewrites the journal with the in-memory tail and reopens it
// for appending.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	n := len(s.recent)
	for i := 0; i < n; i++ {
		if err := enc.Encode(s.recent[(s.head+i)%n]); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if s.f != nil {
		_ = s.f.Close()
	}
	s.f = nf
	s.lines = n
	return nil
}
