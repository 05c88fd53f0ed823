package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// FileBackend persists the ledger as an indented JSON document. Saves go
// through a temp file in the same directory followed by a rename, so a
// reader (or a crash) only ever sees the old or the new document.
type FileBackend struct {
	path      string
	backupDir string
	now       func() time.Time
}

// NewFileBackend creates a file backend writing to path and backups to
// backupDir.
func NewFileBackend(path, backupDir string) *FileBackend {
	return &FileBackend{path: path, backupDir: backupDir, now: time.Now}
}

// Path returns the canonical document path.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Load(_ context.Context) (*model.Ledger, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	return DecodeLedger(data)
}

func (b *FileBackend) Save(_ context.Context, l *model.Ledger) error {
	data, err := EncodeLedger(l)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return writeAtomic(b.path, data)
}

// Backup writes state_<YYYYmmdd_HHMMSS>_<reason>.json into the backup
// directory. A name collision within the same second gets a numeric suffix.
func (b *FileBackend) Backup(_ context.Context, l *model.Ledger, reason string) error {
	data, err := EncodeLedger(l)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.MkdirAll(b.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	base := fmt.Sprintf("state_%s_%s", b.now().UTC().Format("20060102_150405"), sanitizeReason(reason))
	name := filepath.Join(b.backupDir, base+".json")
	for i := 1; ; i++ {
		if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
			break
		}
		name = filepath.Join(b.backupDir, fmt.Sprintf("%s-%d.json", base, i))
	}
	return writeAtomic(name, data)
}

// Quarantine renames the current document to <path>.corrupt-<timestamp>.
func (b *FileBackend) Quarantine(_ context.Context) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%s", b.path, b.now().UTC().Format("20060102T150405"))
	if err := os.Rename(b.path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

var reasonChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func sanitizeReason(reason string) string {
	r := reasonChars.ReplaceAllString(reason, "-")
	if r == "" {
		return "manual"
	}
	return r
}

// writeAtomic writes data to a temp file next to path, syncs it, and renames
// it over path. The temp file is removed on every failure path.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}

	// Persist the rename itself. Not every platform supports syncing a
	// directory, so failures here are ignored.
	if d, derr := os.Open(dir); derr == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
