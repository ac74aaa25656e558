package photo

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const diskFileSuffix = ".img"

// diskTier keeps one file per key. A file's mtime is its last access time,
// which is what trimming orders by.
type diskTier struct {
	mu       sync.Mutex
	fs       afero.Fs
	dir      string
	maxBytes int64
	now      func() time.Time
}

func newDiskTier(fsys afero.Fs, dir string, maxBytes int64, now func() time.Time) *diskTier {
	if maxBytes <= 0 {
		maxBytes = DefaultDiskBytes
	}
	return &diskTier{fs: fsys, dir: dir, maxBytes: maxBytes, now: now}
}

func (d *diskTier) path(key Key) string {
	return path.Join(d.dir, key.fileName()+diskFileSuffix)
}

func (d *diskTier) get(key Key) (Image, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := d.path(key)
	data, err := afero.ReadFile(d.fs, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Image{}, false, nil
		}
		return Image{}, false, fmt.Errorf("read photo %s: %w", name, err)
	}
	if len(data) == 0 {
		_ = d.fs.Remove(name)
		return Image{}, false, nil
	}
	now := d.now()
	if err := d.fs.Chtimes(name, now, now); err != nil {
		return Image{}, false, fmt.Errorf("touch photo %s: %w", name, err)
	}
	return Image{Data: data, ContentType: http.DetectContentType(data)}, true, nil
}

// put writes img and trims the tier back under budget.
func (d *diskTier) put(key Key, img Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create photo dir: %w", err)
	}
	name := d.path(key)
	tmp := name + ".tmp"
	if err := afero.WriteFile(d.fs, tmp, img.Data, 0o644); err != nil {
		return fmt.Errorf("write photo %s: %w", name, err)
	}
	if err := d.fs.Rename(tmp, name); err != nil {
		_ = d.fs.Remove(tmp)
		return fmt.Errorf("commit photo %s: %w", name, err)
	}
	now := d.now()
	if err := d.fs.Chtimes(name, now, now); err != nil {
		return fmt.Errorf("touch photo %s: %w", name, err)
	}
	_, _, err := d.trimLocked()
	return err
}

func (d *diskTier) trim() (int, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trimLocked()
}

// trimLocked removes least recently accessed files until the total size fits.
func (d *diskTier) trimLocked() (int, int64, error) {
	files, total, err := d.listLocked()
	if err != nil {
		return 0, 0, err
	}
	if total <= d.maxBytes {
		return 0, 0, nil
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime().Equal(files[j].ModTime()) {
			return files[i].Name() < files[j].Name()
		}
		return files[i].ModTime().Before(files[j].ModTime())
	})

	removed := 0
	var freed int64
	for _, info := range files {
		if total <= d.maxBytes {
			break
		}
		if err := d.fs.Remove(path.Join(d.dir, info.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, freed, fmt.Errorf("evict photo %s: %w", info.Name(), err)
		}
		total -= info.Size()
		freed += info.Size()
		removed++
	}
	return removed, freed, nil
}

func (d *diskTier) listLocked() ([]fs.FileInfo, int64, error) {
	entries, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("list photo dir: %w", err)
	}
	files := make([]fs.FileInfo, 0, len(entries))
	var total int64
	for _, info := range entries {
		if info.IsDir() || !strings.HasSuffix(info.Name(), diskFileSuffix) {
			continue
		}
		files = append(files, info)
		total += info.Size()
	}
	return files, total, nil
}

func (d *diskTier) stats() (int, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	files, total, err := d.listLocked()
	return len(files), total, err
}

func (d *diskTier) clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fs.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("clear photo dir: %w", err)
	}
	return nil
}
