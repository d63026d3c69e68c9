package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := LoadCatalog("", t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, c.Names())
	for _, name := range c.Names() {
		url, ok := c.URL(name)
		assert.True(t, ok)
		assert.True(t, strings.HasPrefix(url, "https://"), name)
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "macOS 13.0 beta", SanitizeName(`macOS/ 13.0 "beta"`))
	assert.Equal(t, "a", SanitizeName(`<a>?%*|\'`))
}

func TestCatalogFetch(t *testing.T) {
	payload := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/image.ipsw" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", "1000")
		for i := 0; i < 10; i++ {
			w.Write([]byte(payload[i*100 : (i+1)*100]))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	override := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(override, []byte(`{"restoreImages":[
		{"name":"test/1","build":"A1","url":"`+srv.URL+`/image.ipsw"},
		{"name":"gone","build":"A2","url":"`+srv.URL+`/missing"}]}`), 0o644))

	c, err := LoadCatalog(override, filepath.Join(dir, "restore-images"))
	require.NoError(t, err)
	assert.Equal(t, []string{"test/1", "gone"}, c.Names())

	_, fetched := c.FetchedPath("test/1")
	assert.False(t, fetched)

	var seen []int
	path, err := c.Fetch(context.Background(), "test/1", func(p int) { seen = append(seen, p) })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "restore-images", "test1.ipsw"), path)
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "only changes are reported")
	}

	got, fetched := c.FetchedPath("test/1")
	assert.True(t, fetched)
	assert.Equal(t, path, got)

	_, err = c.Fetch(context.Background(), "gone", nil)
	assert.ErrorContains(t, err, "404")
	_, err = c.Fetch(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownRestoreImage)
}
