package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/docmcp-lab/gateway/internal/logging"
)

// SidecarSuffix is appended to a document path to locate its property file.
const SidecarSuffix = ".props.json"

// ErrOutsideRoot is returned when a path escapes the configured root.
var ErrOutsideRoot = errors.New("path outside document root")

// Store loads and persists documents on the local filesystem. Content is
// written to the document path; properties go to a JSON sidecar next to it.
type Store struct {
	// Root, when set, confines every path to this directory. Relative paths
	// are resolved against it.
	Root string
}

// Resolve cleans path and applies the Root confinement.
func (s *Store) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("document path is required")
	}
	if s == nil || s.Root == "" {
		return filepath.Clean(path), nil
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return path, nil
}

// Open reads the document at path. When kind is empty it is inferred from
// the extension. A missing sidecar means no properties.
func (s *Store) Open(kind Kind, path string) (Document, string, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return nil, "", err
	}
	if kind == "" {
		if kind, err = KindForPath(resolved); err != nil {
			return nil, "", err
		}
	}
	doc, err := New(kind)
	if err != nil {
		return nil, "", err
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", resolved, err)
	}
	doc.SetContent(content)

	props, err := readSidecar(resolved + SidecarSuffix)
	if err != nil {
		return nil, "", err
	}
	for k, v := range props {
		doc.SetProperty(k, v)
	}
	logging.Debugw("document: opened", "path", resolved, "doc.kind", string(kind), "bytes", len(content))
	return doc, resolved, nil
}

// Save writes doc to path: content first, then the sidecar, both
// atomically. The sidecar is removed when the document has no properties.
func (s *Store) Save(doc Document, path string) (string, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := SaveFileAtomic(resolved, doc.Content(), 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", resolved, err)
	}
	var props map[string]string
	if h, ok := doc.(propertyHolder); ok {
		props = h.properties()
	}
	if err := writeSidecar(resolved+SidecarSuffix, props); err != nil {
		return "", err
	}
	logging.Infow("document: saved", "path", resolved, "doc.kind", string(doc.Kind()), "bytes", len(doc.Content()))
	return resolved, nil
}

func readSidecar(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar %s: %w", path, err)
	}
	var props map[string]string
	if err := json.Unmarshal(b, &props); err != nil {
		return nil, fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	return props, nil
}

// writeSidecar replaces the sidecar under an advisory flock on path+".lock"
// so that two worker processes saving the same document do not interleave.
func writeSidecar(path string, props map[string]string) error {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", lockPath, err)
	}
	defer lockFile.Close()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	if len(props) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove sidecar %s: %w", path, err)
		}
		return nil
	}
	b, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar %s: %w", path, err)
	}
	if err := SaveFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write sidecar %s: %w", path, err)
	}
	return nil
}

// SaveFileAtomic writes data to a temp file in the same directory, fsyncs,
// closes and renames it over path.
func SaveFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
