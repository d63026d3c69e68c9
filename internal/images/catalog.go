package images

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/samber/lo"
)

//go:embed catalog.json
var defaultCatalog []byte

// ErrUnknownRestoreImage is returned for names missing from the catalog.
var ErrUnknownRestoreImage = errors.New("unknown restore image")

// RestoreImage is one installable OS image.
type RestoreImage struct {
	Name  string `json:"name"`
	Build string `json:"build"`
	URL   string `json:"url"`
}

type catalogFile struct {
	RestoreImages []RestoreImage `json:"restoreImages"`
}

// Catalog lists restore images and fetches them into a directory.
type Catalog struct {
	Images []RestoreImage
	Dir    string
	Client *http.Client
}

// LoadCatalog uses overridePath when it names an existing file and the
// built-in list otherwise. Fetched images are stored in dir.
func LoadCatalog(overridePath, dir string) (*Catalog, error) {
	data := defaultCatalog
	if overridePath != "" && filesystem.Exists(overridePath) {
		var err error
		if data, err = os.ReadFile(overridePath); err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
		logging.Debug("Using restore image catalog override", "path", overridePath)
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &Catalog{Images: f.RestoreImages, Dir: dir, Client: http.DefaultClient}, nil
}

// Names lists the catalog in order.
func (c *Catalog) Names() []string {
	return lo.Map(c.Images, func(img RestoreImage, _ int) string { return img.Name })
}

// Lookup finds a restore image by name.
func (c *Catalog) Lookup(name string) (RestoreImage, bool) {
	return lo.Find(c.Images, func(img RestoreImage) bool { return img.Name == name })
}

// URL returns the download location of name.
func (c *Catalog) URL(name string) (string, bool) {
	img, ok := c.Lookup(name)
	return img.URL, ok
}

// SanitizeName drops characters that are unsafe in file names.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\?%*|"<'>`, r) {
			return -1
		}
		return r
	}, name)
}

func (c *Catalog) imagePath(name string) string {
	return filepath.Join(c.Dir, SanitizeName(name)+".ipsw")
}

// FetchedPath returns the local file of name if it was fetched before.
func (c *Catalog) FetchedPath(name string) (string, bool) {
	p := c.imagePath(name)
	return p, filesystem.Exists(p)
}

// Fetch downloads name and returns its local path. progress, when set, is
// called with the integer percentage each time it changes.
func (c *Catalog) Fetch(ctx context.Context, name string, progress func(percent int)) (string, error) {
	img, ok := c.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRestoreImage, name)
	}
	if err := filesystem.EnsureDirectory(c.Dir); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return "", err
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	logging.Info("Fetching restore image", "name", name, "url", img.URL)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: %s", name, resp.Status)
	}

	tmp, err := os.CreateTemp(c.Dir, ".fetch-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	w := &progressWriter{total: resp.ContentLength, report: progress, last: -1}
	if _, err := io.Copy(io.MultiWriter(tmp, w), resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to download %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dst := c.imagePath(name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	logging.Info("Fetched restore image", "name", name, "path", dst, "bytes", w.written)
	return dst, nil
}

type progressWriter struct {
	total   int64
	written int64
	last    int
	report  func(int)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.report != nil && p.total > 0 {
		pct := int(p.written * 100 / p.total)
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return len(b), nil
}
