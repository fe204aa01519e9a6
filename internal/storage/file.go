package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const fileExtension = ".otaa"

// FileBackend stores each slot in its own file within a directory. Records
// are written to a temporary file which is renamed over the previous record,
// so that a reader or a power-loss never observes a partially written
// record.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a new FileBackend, creating the directory if it
// does not exist.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.Wrap(ErrStorageUnavailable, "storage directory is not configured")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(ErrStorageUnavailable, "create directory %s: %s", dir, err)
	}

	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(slot string) string {
	return filepath.Join(b.dir, slot+fileExtension)
}

// Load implements Backend.
func (b *FileBackend) Load(ctx context.Context, slot string) ([]byte, error) {
	rec, err := os.ReadFile(b.path(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDoesNotExist
		}
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return rec, nil
}

// Save implements Backend.
func (b *FileBackend) Save(ctx context.Context, slot string, rec []byte) error {
	f, err := os.CreateTemp(b.dir, "."+slot+".*.tmp")
	if err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	tmp := f.Name()

	err = func() error {
		if _, err := f.Write(rec); err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
		return f.Close()
	}()
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}

	if err := os.Rename(tmp, b.path(slot)); err != nil {
		os.Remove(tmp)
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}

	b.syncDir()
	return nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(ctx context.Context, slot string) error {
	if err := os.Remove(b.path(slot)); err != nil {
		if os.IsNotExist(err) {
			return ErrDoesNotExist
		}
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}

	b.syncDir()
	return nil
}

// Slots implements Backend.
func (b *FileBackend) Slots(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, fileExtension))
	}
	sort.Strings(out)
	return out, nil
}

// Ping implements Backend.
func (b *FileBackend) Ping(ctx context.Context) error {
	fi, err := os.Stat(b.dir)
	if err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	if !fi.IsDir() {
		return errors.Wrapf(ErrStorageUnavailable, "%s is not a directory", b.dir)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	return nil
}

// syncDir flushes the directory entry after a rename or remove. Not all
// platforms support this, errors are only logged.
func (b *FileBackend) syncDir() {
	d, err := os.Open(b.dir)
	if err != nil {
		log.WithError(err).WithField("dir", b.dir).Debug("storage: open directory for sync error")
		return
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		log.WithError(err).WithField("dir", b.dir).Debug("storage: sync directory error")
	}
}
