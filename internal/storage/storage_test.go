package storage

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openFileStore(t *testing.T, path string, keep int) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path, Keep: keep}, logNop)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func record(epoch uint64) CollectionRecord {
	return CollectionRecord{
		At:           time.Unix(1_700_000_000+int64(epoch), 0).UTC(),
		Epoch:        epoch,
		Policy:       "timer",
		Reason:       "heap",
		LiveSetBytes: epoch * 1024,
		TargetBefore: 1 << 20,
		TargetAfter:  math.MaxUint64,
		Pause:        time.Duration(epoch) * time.Microsecond,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " Off "} {
		st, err := Open(Config{Driver: d}, logNop)
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logNop); err == nil {
		t.Fatalf("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logNop); err == nil {
		t.Fatalf("file driver without path accepted")
	}
}

func TestFileStoreRecentNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openFileStore(t, filepath.Join(t.TempDir(), "journal"), 3)
	defer st.Close()

	for e := uint64(1); e <= 5; e++ {
		if err := st.AppendCollection(ctx, record(e)); err != nil {
			t.Fatalf("append %d: %v", e, err)
		}
	}
	got, err := st.RecentCollections(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 || got[0].Epoch != 5 || got[1].Epoch != 4 || got[2].Epoch != 3 {
		t.Fatalf("recent = %+v", got)
	}
	if got[0].TargetAfter != math.MaxUint64 {
		t.Fatalf("target_after = %d", got[0].TargetAfter)
	}

	got, _ = st.RecentCollections(ctx, 1)
	if len(got) != 1 || got[0].Epoch != 5 {
		t.Fatalf("limit 1 = %+v", got)
	}
}

func TestFileStoreReplaysAndCompacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jsonl")

	st := openFileStore(t, path, 4)
	for e := uint64(1); e <= 10; e++ {
		if err := st.AppendCollection(ctx, record(e)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "journal.collections.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if n := strings.Count(string(b), "\n"); n >= 8 {
		t.Fatalf("journal not compacted: %d lines", n)
	}

	// A torn trailing write must not prevent reopening.
	f, _ := os.OpenFile(filepath.Join(dir, "journal.collections.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	_, _ = f.WriteString(`{"epoch": 11, "poli`)
	_ = f.Close()

	st = openFileStore(t, path, 4)
	defer st.Close()
	got, err := st.RecentCollections(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 4 || got[0].Epoch != 10 || got[3].Epoch != 7 {
		t.Fatalf("replayed = %+v", got)
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st := openFileStore(t, filepath.Join(t.TempDir(), "j"), 0)
	_ = st.Close()
	if err := st.AppendCollection(context.Background(), record(1)); err == nil {
		t.Fatalf("append after close accepted")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
