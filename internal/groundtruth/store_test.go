package groundtruth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreFetchLocalFile(t *testing.T) {
	docDir := t.TempDir()
	docPath := filepath.Join(docDir, "report.pdf")
	require.NoError(t, os.WriteFile(docPath, []byte("%PDF-1.7 fake"), 0o644))

	store, err := OpenStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	source := Source{Title: "年度报告", URL: "file://" + docPath}
	artifact, err := store.Fetch(context.Background(), source)
	require.NoError(t, err)

	assert.Len(t, artifact.SHA256, 64)
	assert.Equal(t, int64(13), artifact.Size)
	assert.Equal(t, ".pdf", filepath.Ext(artifact.LocalPath))
	data, err := os.ReadFile(artifact.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 fake", string(data))

	// Repeat fetches come out of the index, pointing at the same file.
	again, err := store.Fetch(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, artifact.LocalPath, again.LocalPath)
}

func TestStoreLookupMissesUnknownURL(t *testing.T) {
	store, err := OpenStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	artifact, err := store.Lookup("https://example.com/never-fetched")
	require.NoError(t, err)
	assert.Nil(t, artifact)
}

func TestStoreCacheBundleSkipsFailures(t *testing.T) {
	docDir := t.TempDir()
	okPath := filepath.Join(docDir, "ok.txt")
	require.NoError(t, os.WriteFile(okPath, []byte("hello"), 0o644))

	store, err := OpenStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	bundle := &Bundle{
		Primary: Source{Title: "ok", URL: "file://" + okPath},
		Supporting: []Source{
			{Title: "missing", URL: "file://" + filepath.Join(docDir, "absent.txt")},
		},
	}
	artifacts := store.CacheBundle(context.Background(), bundle)
	require.NotNil(t, artifacts.Primary)
	assert.Empty(t, artifacts.Supporting)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "年度报告-2024", SanitizeFilename("年度报告 2024"))
	assert.Equal(t, "a_b-c.d", SanitizeFilename("a_b-c.d"))
	assert.Equal(t, "", SanitizeFilename("///"))
}

func TestGuessExtension(t *testing.T) {
	assert.Equal(t, ".pdf", GuessExtension("application/pdf; charset=utf-8", "https://x/doc"))
	assert.Equal(t, ".html", GuessExtension("text/html", "https://x/doc"))
	assert.Equal(t, ".pdf", GuessExtension("", "https://x/doc.pdf?download=1"))
	assert.Equal(t, ".bin", GuessExtension("", "https://x/doc"))
}
