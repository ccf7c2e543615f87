package groundtruth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Artifact records a fetched reference document in the local store.
type Artifact struct {
	LocalPath   string `json:"local_path"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"filesize"`
	SourceURL   string `json:"source_url"`
}

// BundleArtifacts are the cached files behind a ground-truth bundle.
// Supporting entries that failed to download are simply absent.
type BundleArtifacts struct {
	Primary    *Artifact   `json:"primary,omitempty"`
	Supporting []*Artifact `json:"supporting,omitempty"`
}

// Store is a content-addressed artifact cache: files live under
// <dir>/<sha[:2]>/<sha>/ and an embedded sqlite index maps URLs and digests
// to local paths.
type Store struct {
	dir        string
	db         *sql.DB
	httpClient *http.Client
	logger     *zap.Logger
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	sha256       TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	local_path   TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	filesize     INTEGER NOT NULL DEFAULT 0,
	fetched_at   TEXT NOT NULL,
	PRIMARY KEY (sha256, source_url)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_url ON artifacts(source_url);
`

// OpenStore creates the cache directory and its sqlite index.
func OpenStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("opening artifact index: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing artifact index: %w", err)
	}
	return &Store{
		dir:        dir,
		db:         db,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		logger:     logger,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Lookup returns the cached artifact for a source URL, or nil when the URL
// has never been fetched.
func (s *Store) Lookup(url string) (*Artifact, error) {
	row := s.db.QueryRow(
		`SELECT sha256, source_url, local_path, content_type, filesize
		 FROM artifacts WHERE source_url = ? ORDER BY fetched_at DESC LIMIT 1`, url)
	var a Artifact
	err := row.Scan(&a.SHA256, &a.SourceURL, &a.LocalPath, &a.ContentType, &a.Size)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(a.LocalPath); statErr != nil {
		return nil, nil
	}
	return &a, nil
}

// Fetch downloads a source into the store, reusing the index on repeat URLs.
func (s *Store) Fetch(ctx context.Context, source Source) (*Artifact, error) {
	if source.URL == "" {
		return nil, fmt.Errorf("source has no url")
	}
	if cached, err := s.Lookup(source.URL); err == nil && cached != nil {
		return cached, nil
	}

	data, contentType, err := s.download(ctx, source.URL)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])
	dir := filepath.Join(s.dir, sha[:2], sha)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := SanitizeFilename(source.Title)
	if name == "" {
		name = "ground-truth"
	}
	path := filepath.Join(dir, name+GuessExtension(contentType, source.URL))
	if _, statErr := os.Stat(path); statErr != nil {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, err
		}
	}

	artifact := &Artifact{
		LocalPath:   path,
		SHA256:      sha,
		ContentType: contentType,
		Size:        int64(len(data)),
		SourceURL:   source.URL,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts
		 (sha256, source_url, local_path, content_type, filesize, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.SHA256, artifact.SourceURL, artifact.LocalPath,
		artifact.ContentType, artifact.Size, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("indexing artifact: %w", err)
	}
	return artifact, nil
}

// CacheBundle fetches the primary and supporting sources. Failures on
// individual sources are logged and skipped; the call only errors when even
// the primary cannot be handled.
func (s *Store) CacheBundle(ctx context.Context, bundle *Bundle) *BundleArtifacts {
	out := &BundleArtifacts{}
	primary, err := s.Fetch(ctx, bundle.Primary)
	if err != nil {
		s.logger.Warn("caching primary ground truth failed",
			zap.String("url", bundle.Primary.URL), zap.Error(err))
	} else {
		out.Primary = primary
	}
	for _, src := range bundle.Supporting {
		artifact, err := s.Fetch(ctx, src)
		if err != nil {
			s.logger.Debug("caching supporting source failed",
				zap.String("url", src.URL), zap.Error(err))
			continue
		}
		out.Supporting = append(out.Supporting, artifact)
	}
	return out
}

func (s *Store) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	if strings.HasPrefix(rawURL, "file://") {
		path := strings.TrimPrefix(rawURL, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return data, contentType, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; queryforge/1.0)")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// SanitizeFilename reduces a title to a filesystem-safe name, keeping
// letters and digits of any script.
func SanitizeFilename(title string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	name := strings.Trim(sb.String(), "-.")
	if runes := []rune(name); len(runes) > 80 {
		name = string(runes[:80])
	}
	return name
}

// GuessExtension picks a file extension from the content type, falling back
// to the URL path.
func GuessExtension(contentType, rawURL string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return ".pdf"
	case strings.Contains(ct, "json"):
		return ".json"
	case strings.Contains(ct, "html"):
		return ".html"
	case strings.Contains(ct, "plain"):
		return ".txt"
	}
	if idx := strings.IndexAny(rawURL, "?#"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	if ext := strings.ToLower(filepath.Ext(rawURL)); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".bin"
}
