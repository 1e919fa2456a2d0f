package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreStageCommitAndOpen(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "/"+sampleHex+".mp3")

	if err := store.Prepare(key); err != nil {
		t.Fatalf("prepare error: %v", err)
	}
	staged, err := store.Stage(key)
	if err != nil {
		t.Fatalf("stage error: %v", err)
	}
	if filepath.Dir(staged.Name()) != store.Root() {
		t.Fatalf("staging file must live next to the destination: %s", staged.Name())
	}
	if !strings.HasSuffix(staged.Name(), ".tmp") {
		t.Fatalf("staging file should carry a .tmp suffix: %s", staged.Name())
	}

	payload := []byte("payload")
	if _, err := staged.CopyFrom(context.Background(), bytes.NewReader(payload)); err != nil {
		t.Fatalf("copy error: %v", err)
	}
	if _, err := store.Stat(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("object must stay invisible before commit, got %v", err)
	}

	entry, err := staged.Commit()
	if err != nil {
		t.Fatalf("commit error: %v", err)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}
	if _, err := os.Stat(staged.Name()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staging file should be gone after commit")
	}

	result, err := store.Open(key)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer result.Reader.Close()
	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
}

func TestStagedFileCommitSurvivesStatFailure(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "/"+sampleHex+".mp3")
	if err := store.Prepare(key); err != nil {
		t.Fatalf("prepare error: %v", err)
	}
	staged, err := store.Stage(key)
	if err != nil {
		t.Fatalf("stage error: %v", err)
	}
	if _, err := staged.CopyFrom(context.Background(), strings.NewReader("abcdef")); err != nil {
		t.Fatalf("copy error: %v", err)
	}

	prev := statFile
	statFile = func(string) (os.FileInfo, error) { return nil, errors.New("stat unavailable") }
	t.Cleanup(func() { statFile = prev })

	entry, err := staged.Commit()
	if err != nil {
		t.Fatalf("published object must not report a commit error: %v", err)
	}
	if entry.SizeBytes != 6 || entry.ModTime.IsZero() {
		t.Fatalf("entry should fall back to written bytes: %+v", entry)
	}
	statFile = prev
	if _, err := store.Stat(key); err != nil {
		t.Fatalf("object should be published: %v", err)
	}
}

func TestStagedFileDiscard(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "/"+sampleHex+".mp3")

	staged, err := store.Stage(key)
	if err != nil {
		t.Fatalf("stage error: %v", err)
	}
	if _, err := staged.Write([]byte("partial")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("discard error: %v", err)
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("second discard should be a no-op: %v", err)
	}
	if _, err := staged.Commit(); !errors.Is(err, ErrStagingClosed) {
		t.Fatalf("commit after discard should fail, got %v", err)
	}
	if _, err := staged.Write([]byte("x")); !errors.Is(err, ErrStagingClosed) {
		t.Fatalf("write after discard should fail, got %v", err)
	}

	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("readdir error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root after discard, found %d entries", len(entries))
	}
	if _, err := store.Stat(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreCopyHonoursContext(t *testing.T) {
	store := newTestStore(t)
	staged, err := store.Stage(mustKey(t, "/"+sampleHex+".mp3"))
	if err != nil {
		t.Fatalf("stage error: %v", err)
	}
	defer staged.Discard()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := staged.CopyFrom(ctx, bytes.NewReader([]byte("data"))); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "/"+sampleHex+".mp3")

	if err := os.MkdirAll(filepath.Join(store.Root(), key.Name()), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if _, err := store.Stat(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreResolveRejectsEscape(t *testing.T) {
	store := newTestStore(t)

	resolved, err := store.Resolve("/sub/../file.txt")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolved != filepath.Join(store.Root(), "file.txt") {
		t.Fatalf("unexpected resolved path %s", resolved)
	}
	root, err := store.Resolve("/")
	if err != nil || root != store.Root() {
		t.Fatalf("root should resolve to storage root, got %s (%v)", root, err)
	}
	if resolved, err := store.Resolve("/../../etc/passwd"); err != nil || !strings.HasPrefix(resolved, store.Root()) {
		t.Fatalf("cleaned path must stay under root, got %s (%v)", resolved, err)
	}
	if _, err := store.Resolve("/a\x00b"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("NUL byte should be rejected, got %v", err)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), Options{SyncWrites: true})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func mustKey(t *testing.T, raw string) Key {
	t.Helper()
	key, ok := NewScheme(DefaultExtension).Parse(raw)
	if !ok {
		t.Fatalf("failed to parse key %q", raw)
	}
	return key
}

func TestStagedFileCleanupOnInterruptedCopy(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "/"+sampleHex+".mp3")

	staged, err := store.Stage(key)
	if err != nil {
		t.Fatalf("stage error: %v", err)
	}
	reader := &flakyReader{payload: []byte("partial_data"), failAfter: 5}
	if _, err := staged.CopyFrom(context.Background(), reader); err == nil {
		t.Fatalf("expected error from interrupted reader")
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("discard error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.Root(), key.Name())); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no final file, got err=%v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(store.Root(), ".fill-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files should be cleaned up, found %v", matches)
	}
}

type flakyReader struct {
	payload   []byte
	failAfter int
	readBytes int
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.readBytes >= f.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	remaining := f.failAfter - f.readBytes
	if remaining > len(p) {
		remaining = len(p)
	}
	copy(p[:remaining], f.payload[f.readBytes:f.readBytes+remaining])
	f.readBytes += remaining
	return remaining, nil
}
