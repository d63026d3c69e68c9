// Package filesystem holds the file helpers shared by the image store and
// the CLI.
package filesystem

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeeftor/vmcap/internal/logging"
)

// copyBlockSize is the unit CopyFile checks for holes.
const copyBlockSize = 1 << 20

// EnsureDirectory creates a directory and all necessary parent directories
func EnsureDirectory(path string) error {
	if path == "." || path == "" {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}

// EnsureDirectoryForFile creates the parent directory for a given file path
func EnsureDirectoryForFile(filePath string) error {
	return EnsureDirectory(filepath.Dir(filePath))
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CopyFile streams src to dst. Blocks of zeros are skipped with a seek so
// sparse disk images stay sparse.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to read source file '%s': %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := EnsureDirectoryForFile(dst); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to write destination file '%s': %w", dst, err)
	}

	zero := make([]byte, copyBlockSize)
	buf := make([]byte, copyBlockSize)
	for {
		n, rerr := io.ReadFull(in, buf)
		if n > 0 {
			if bytes.Equal(buf[:n], zero[:n]) {
				_, err = out.Seek(int64(n), io.SeekCurrent)
			} else {
				_, err = out.Write(buf[:n])
			}
			if err != nil {
				out.Close()
				return fmt.Errorf("failed to write destination file '%s': %w", dst, err)
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			out.Close()
			return fmt.Errorf("failed to read source file '%s': %w", src, rerr)
		}
	}

	// Trailing holes are only materialized by the final size.
	if err := out.Truncate(info.Size()); err != nil {
		out.Close()
		return err
	}
	logging.Debug("Copied file", "src", src, "dst", dst, "size_bytes", info.Size())
	return out.Close()
}

// CreateSparseFile creates path with the given size without allocating it.
func CreateSparseFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to size '%s': %w", path, err)
	}
	return f.Close()
}

// WriteFileAtomic writes to a temp file next to path and renames it.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := EnsureDirectoryForFile(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SafeRemoveAll removes a directory tree, ignoring "not exist" errors
func SafeRemoveAll(path string) error {
	err := os.RemoveAll(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MoveEntries renames every entry of src into dst. Name clashes get a
// numeric suffix.
func MoveEntries(src, dst string) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if err := EnsureDirectory(dst); err != nil {
		return 0, err
	}
	moved := 0
	for _, e := range entries {
		target := filepath.Join(dst, e.Name())
		for i := 1; Exists(target); i++ {
			target = filepath.Join(dst, fmt.Sprintf("%s.%d", e.Name(), i))
		}
		if err := os.Rename(filepath.Join(src, e.Name()), target); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// ExpandPath converts a path to absolute form, handling ~ expansion
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path provided")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// GetFileExtension returns the lowercase file extension without the dot
func GetFileExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// IsImageFile checks if a file path represents an image file
func IsImageFile(path string) bool {
	switch GetFileExtension(path) {
	case "png", "jpg", "jpeg", "gif", "ppm", "pgm", "pbm", "pnm":
		return true
	default:
		return false
	}
}

// ValidateOutputFile checks that outputFile can be created or overwritten.
func ValidateOutputFile(outputFile, paramName string) error {
	if outputFile == "" {
		return fmt.Errorf("%s is required", paramName)
	}
	if err := EnsureDirectoryForFile(outputFile); err != nil {
		return fmt.Errorf("cannot create directory for %s '%s': %w", paramName, outputFile, err)
	}
	if _, err := os.Stat(outputFile); err == nil {
		f, err := os.OpenFile(outputFile, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("%s '%s' exists but is not writable: %w", paramName, outputFile, err)
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access %s '%s': %w", paramName, outputFile, err)
	}
	return nil
}
