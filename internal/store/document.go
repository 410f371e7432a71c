package store

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const fileMode fs.FileMode = 0o600

// document is one JSON file under the store directory. A missing file reads
// as the value fresh returns. Callers serialise access.
type document[V any] struct {
	path  string
	fresh func() V
}

func newDocument[V any](dir, name string, fresh func() V) document[V] {
	return document[V]{path: filepath.Join(dir, name), fresh: fresh}
}

func (d document[V]) name() string { return filepath.Base(d.path) }

func (d document[V]) load() (V, error) {
	v := d.fresh()
	b, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return v, errors.Wrapf(err, "read %s", d.name())
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, errors.Wrapf(err, "decode %s", d.name())
	}
	return v, nil
}

// errUnchanged lets an update callback skip the write without failing.
var errUnchanged = errors.New("unchanged")

// update loads the document, applies fn and writes the result back. Nothing
// is written when fn fails.
func (d document[V]) update(fn func(*V) error) error {
	v, err := d.load()
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", d.name())
	}
	return writeAtomic(d.path, b)
}

// writeAtomic replaces path with b through a temp file in the same directory,
// so readers see either the old or the new content.
func writeAtomic(path string, b []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := f.Chmod(fileMode); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "chmod %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "replace %s", filepath.Base(path))
}
