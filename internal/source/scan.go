package source

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/promptweave/internal/parser"
)

// scanResult is the outcome of resolving one location pattern: the resources
// it contributed and the directories that need watching for it.
type scanResult struct {
	resources []Resource
	watchDirs []string
}

// scanLocation resolves one location pattern into concrete resources.
//
// Three pattern shapes are recognized:
//   - a directory: every supported file under it, recursively, with the
//     directory tree registered for watching
//   - a single file: that file, with its parent directory watched
//   - a zip archive, optionally with an entry prefix after "!"
//     ("prompts.zip" or "prompts.zip!team/"): matching entries, read-only,
//     never watched
func scanLocation(location string) (scanResult, error) {
	if archive, prefix, ok := splitArchivePattern(location); ok {
		resources, err := scanArchive(archive, prefix)
		return scanResult{resources: resources}, err
	}

	info, err := os.Stat(location)
	if err != nil {
		return scanResult{}, fmt.Errorf("location %s: %w", location, err)
	}

	if !info.IsDir() {
		return scanResult{
			resources: []Resource{NewFileResource(location)},
			watchDirs: []string{filepath.Dir(location)},
		}, nil
	}

	var result scanResult
	err = filepath.WalkDir(location, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != location {
				return filepath.SkipDir
			}
			result.watchDirs = append(result.watchDirs, path)
			return nil
		}
		if parser.IsSupportedFile(d.Name()) {
			result.resources = append(result.resources, NewFileResource(path))
		}
		return nil
	})
	return result, err
}

// splitArchivePattern recognizes "archive.zip" and "archive.zip!prefix/"
// location shapes.
func splitArchivePattern(location string) (archive, prefix string, ok bool) {
	if idx := strings.Index(location, "!"); idx >= 0 {
		archive, prefix = location[:idx], location[idx+1:]
	} else {
		archive = location
	}
	if strings.EqualFold(filepath.Ext(archive), ".zip") {
		return archive, prefix, true
	}
	return "", "", false
}

// scanArchive enumerates supported entries of a zip archive under prefix.
func scanArchive(archive, prefix string) ([]Resource, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", archive, err)
	}
	defer zr.Close()

	var resources []Resource
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if prefix != "" && !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if !parser.IsSupportedFile(f.Name) {
			continue
		}
		resources = append(resources, NewArchiveResource(archive, f.Name))
	}
	return resources, nil
}
