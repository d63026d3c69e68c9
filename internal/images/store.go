// Package images manages the on-disk machine images and the restore-image
// catalog.
//
// Layout under the base path:
//
//	images/<name>/        main-storage.img, auxiliary-storage.img, configuration.json
//	staging/<id>/         clones of running instances
//	cleanup/              staging leftovers awaiting removal
//	restore-images/       fetched <name>.ipsw files
package images

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/samber/lo"
)

const (
	MainStorageFile      = "main-storage.img"
	AuxiliaryStorageFile = "auxiliary-storage.img"
	ConfigurationFile    = "configuration.json"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrInvalidName   = errors.New("invalid image name")
	ErrImageExists   = errors.New("image already exists")
)

// Store is rooted at a base directory.
type Store struct {
	Base string
}

func NewStore(base string) *Store { return &Store{Base: base} }

func (s *Store) ImagesDir() string        { return filepath.Join(s.Base, "images") }
func (s *Store) StagingDir() string       { return filepath.Join(s.Base, "staging") }
func (s *Store) CleanupDir() string       { return filepath.Join(s.Base, "cleanup") }
func (s *Store) RestoreImagesDir() string { return filepath.Join(s.Base, "restore-images") }

// Init creates the layout and moves whatever a previous run left in
// staging to cleanup.
func (s *Store) Init() error {
	for _, dir := range []string{s.ImagesDir(), s.StagingDir(), s.CleanupDir(), s.RestoreImagesDir()} {
		if err := filesystem.EnsureDirectory(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	n, err := filesystem.MoveEntries(s.StagingDir(), s.CleanupDir())
	if err != nil {
		return fmt.Errorf("failed to move staging leftovers: %w", err)
	}
	if n > 0 {
		logging.Info("Moved stale staging entries to cleanup", "count", n)
	}
	return nil
}

// PurgeCleanup deletes everything in the cleanup directory.
func (s *Store) PurgeCleanup() error {
	entries, err := os.ReadDir(s.CleanupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := filesystem.SafeRemoveAll(filepath.Join(s.CleanupDir(), e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	logging.Debug("Purged cleanup directory", "entries", len(entries), "failed", len(errs))
	return errors.Join(errs...)
}

// ValidateName rejects names that would escape the images directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Path is the directory of the named image.
func (s *Store) Path(name string) string {
	return filepath.Join(s.ImagesDir(), name)
}

// Exists reports whether name is a complete image.
func (s *Store) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	return filesystem.Exists(filepath.Join(s.Path(name), ConfigurationFile))
}

// List returns the sorted names of complete images.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.ImagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), e.IsDir() && s.Exists(e.Name())
	})
	sort.Strings(names)
	return names, nil
}

// StagingPath is the working directory of a cloned instance.
func (s *Store) StagingPath(id string) string {
	return filepath.Join(s.StagingDir(), id)
}

// Create allocates a new image called name.
func (s *Store) Create(name string, diskGiB int, version PlatformVersion) (*Configuration, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dir := s.Path(name)
	if filesystem.Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrImageExists, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	cfg, err := Allocate(dir, diskGiB, version)
	if err != nil {
		filesystem.SafeRemoveAll(dir)
		return nil, err
	}
	return cfg, nil
}

// Clone duplicates the named image into staging/<id>.
func (s *Store) Clone(name, id string) (string, *Configuration, error) {
	if !s.Exists(name) {
		return "", nil, fmt.Errorf("%w: %s", ErrImageNotFound, name)
	}
	dst := s.StagingPath(id)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", nil, err
	}
	cfg, err := Duplicate(s.Path(name), dst)
	if err != nil {
		filesystem.SafeRemoveAll(dst)
		return "", nil, err
	}
	return dst, cfg, nil
}
