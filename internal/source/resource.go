// Package source tracks prompt-defining resources through an index-only
// scheme: a forward index from prompt name to owning resource and a reverse
// index from resource to the names it currently defines. Parsed content is
// never retained; the indexes hold resource handles only, so steady-state
// memory is bounded by the number of names, not by file sizes.
package source

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Resource is an opaque handle to one physical byte source. A resource may
// define zero, one, or many prompts.
type Resource interface {
	// ID is stable and unique per physical resource.
	ID() string
	// Filename is the base name used to pick a parse format and default
	// prompt name.
	Filename() string
	// Exists reports whether the backing object is still present.
	Exists() bool
	// Open returns the resource's bytes. The caller closes the reader.
	Open() (io.ReadCloser, error)
}

// FileResource is a plain filesystem file.
type FileResource struct {
	path string
}

// NewFileResource creates a file resource for path. The id is the absolute
// path, so two spellings of the same file collapse to one resource.
func NewFileResource(path string) *FileResource {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &FileResource{path: path}
}

// ID implements Resource.
func (r *FileResource) ID() string { return r.path }

// Filename implements Resource.
func (r *FileResource) Filename() string { return filepath.Base(r.path) }

// Exists implements Resource.
func (r *FileResource) Exists() bool {
	info, err := os.Stat(r.path)
	return err == nil && !info.IsDir()
}

// Open implements Resource.
func (r *FileResource) Open() (io.ReadCloser, error) {
	return os.Open(r.path)
}

// Path returns the absolute filesystem path.
func (r *FileResource) Path() string { return r.path }

// ArchiveResource is one entry inside a zip archive. Archives are read-only:
// they are enumerated at startup and never watched.
type ArchiveResource struct {
	archive string
	entry   string
}

// NewArchiveResource creates a resource for an entry of a zip archive.
func NewArchiveResource(archive, entry string) *ArchiveResource {
	if abs, err := filepath.Abs(archive); err == nil {
		archive = abs
	}
	return &ArchiveResource{archive: archive, entry: entry}
}

// ID implements Resource.
func (r *ArchiveResource) ID() string {
	return fmt.Sprintf("zip:%s!%s", r.archive, r.entry)
}

// Filename implements Resource.
func (r *ArchiveResource) Filename() string { return filepath.Base(r.entry) }

// Exists implements Resource.
func (r *ArchiveResource) Exists() bool {
	zr, err := zip.OpenReader(r.archive)
	if err != nil {
		return false
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name == r.entry {
			return true
		}
	}
	return false
}

// Open implements Resource.
func (r *ArchiveResource) Open() (io.ReadCloser, error) {
	zr, err := zip.OpenReader(r.archive)
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name != r.entry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return nil, err
		}
		return &archiveReadCloser{entry: rc, archive: zr}, nil
	}
	zr.Close()
	return nil, fmt.Errorf("entry %s not found in archive %s", r.entry, r.archive)
}

// archiveReadCloser closes both the entry reader and the archive handle.
type archiveReadCloser struct {
	entry   io.ReadCloser
	archive *zip.ReadCloser
}

func (a *archiveReadCloser) Read(p []byte) (int, error) { return a.entry.Read(p) }

func (a *archiveReadCloser) Close() error {
	entryErr := a.entry.Close()
	archiveErr := a.archive.Close()
	if entryErr != nil {
		return entryErr
	}
	return archiveErr
}
