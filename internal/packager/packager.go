// Package packager persists generated tasks as on-disk packages: the full
// payload, a leakage-free solver view, the ground-truth artifact, and a data
// room of reference documents.
package packager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"queryforge/internal/groundtruth"
	"queryforge/internal/payload"
	"queryforge/internal/spec"
)

// Error reports a packaging failure. Packaging problems never invalidate the
// generated payload itself.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Options control what lands next to query.json.
type Options struct {
	// IncludeReferences downloads data-room documents. The manifest is
	// written either way.
	IncludeReferences bool
	// ReferenceLimit caps reference downloads; zero disables them entirely,
	// negative means no cap.
	ReferenceLimit int
	// DownloadGroundTruth fetches the primary artifact when no cached copy
	// exists.
	DownloadGroundTruth bool
	// SplitViews additionally writes solver_query.json without the
	// judge-only blocks.
	SplitViews bool
}

// DefaultOptions mirror the usual batch run: full package with up to three
// reference downloads.
func DefaultOptions() Options {
	return Options{
		IncludeReferences:   true,
		ReferenceLimit:      3,
		DownloadGroundTruth: true,
		SplitViews:          true,
	}
}

// Assembler writes query packages under a destination root.
type Assembler struct {
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAssembler(opts Options, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		opts:       opts,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		logger:     logger,
	}
}

// manifestEntry is one row of the data_room references.json manifest.
type manifestEntry struct {
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
	Source      string `json:"source,omitempty"`
	Date        string `json:"date,omitempty"`
	LocalPath   string `json:"local_path,omitempty"`
	PackagePath string `json:"package_path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	Type        string `json:"type"`
}

// Save writes the package for one payload and returns its directory:
// <destination>/<level>/<orientation>/<query_id>/.
func (a *Assembler) Save(ctx context.Context, p *payload.Payload, destination string) (string, error) {
	level := p.Level
	if level == "" {
		level = spec.LevelL3
	}
	orientation := strings.ToLower(strings.TrimSpace(p.Orientation))
	if orientation != spec.OrientationPositive && orientation != spec.OrientationInverse {
		if orientation == "" {
			orientation = spec.OrientationPositive
		} else {
			orientation = "misc"
		}
	}
	queryID := p.QueryID
	if queryID == "" {
		queryID = "unnamed_query"
	}

	baseDir := filepath.Join(destination, level, orientation, queryID)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", &Error{Msg: "creating package directory", Err: err}
	}

	if err := writeJSON(filepath.Join(baseDir, "query.json"), p); err != nil {
		return "", err
	}
	if a.opts.SplitViews {
		if err := a.writeSolverView(baseDir, p); err != nil {
			return "", err
		}
	}
	if len(p.SearchResults) > 0 {
		if err := writeJSON(filepath.Join(baseDir, "search_results.json"), p.SearchResults); err != nil {
			return "", err
		}
	}

	gtDir := filepath.Join(baseDir, "ground_truth")
	if err := os.MkdirAll(gtDir, 0o755); err != nil {
		return "", &Error{Msg: "creating ground_truth directory", Err: err}
	}
	if p.GroundTruth != nil {
		if err := writeJSON(filepath.Join(gtDir, "metadata.json"), p.GroundTruth); err != nil {
			return "", err
		}
	}

	artifacts := a.placeGroundTruthPrimary(ctx, p, gtDir)
	if len(artifacts) > 0 {
		if err := writeJSON(filepath.Join(baseDir, "artifacts.json"), artifacts); err != nil {
			return "", err
		}
	}

	if err := a.buildDataRoom(ctx, p, baseDir); err != nil {
		return "", err
	}
	return baseDir, nil
}

// writeSolverView strips the judge-only blocks and scrubs leftover term
// mentions out of search result snippets.
func (a *Assembler) writeSolverView(baseDir string, p *payload.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return &Error{Msg: "encoding solver view", Err: err}
	}
	var view map[string]any
	if err := json.Unmarshal(data, &view); err != nil {
		return &Error{Msg: "decoding solver view", Err: err}
	}
	delete(view, "ground_truth")
	delete(view, "standard_answer")

	if results, ok := view["search_results"].([]any); ok {
		for _, item := range results {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range []string{"title", "snippet"} {
				if text, ok := entry[key].(string); ok {
					entry[key] = scrubTerm(text)
				}
			}
		}
	}
	return writeJSON(filepath.Join(baseDir, "solver_query.json"), view)
}

var gtTermPattern = regexp.MustCompile(`(?i)Ground\s*Truth`)

func scrubTerm(s string) string {
	return gtTermPattern.ReplaceAllString(s, "参考资料")
}

// placeGroundTruthPrimary copies the cached primary artifact into the
// package, or downloads it when no cache entry exists. The ground_truth
// directory holds the single authoritative artifact only.
func (a *Assembler) placeGroundTruthPrimary(ctx context.Context, p *payload.Payload, gtDir string) map[string]string {
	if !a.opts.DownloadGroundTruth || p.GroundTruth == nil {
		return nil
	}
	out := make(map[string]string)

	if cache := p.GroundTruth.Cache; cache != nil && cache.Primary != nil && cache.Primary.LocalPath != "" {
		src := cache.Primary.LocalPath
		if _, err := os.Stat(src); err == nil {
			dest := filepath.Join(gtDir, filepath.Base(src))
			if err := copyFile(src, dest); err == nil {
				out["ground_truth_primary"] = dest
				out["ground_truth_primary_content_type"] = cache.Primary.ContentType
				return out
			}
			a.logger.Warn("copying cached ground truth failed", zap.String("src", src))
		}
	}

	url := p.GroundTruth.Primary.URL
	if url == "" {
		return nil
	}
	path, contentType, err := a.downloadResource(ctx, url, gtDir, "ground-truth-primary")
	if err != nil {
		a.logger.Warn("downloading ground truth primary failed",
			zap.String("url", url), zap.Error(err))
		return nil
	}
	out["ground_truth_primary"] = path
	out["ground_truth_primary_content_type"] = contentType
	return out
}

var materialURLPattern = regexp.MustCompile(`https?://[^\s)\]"<>]+`)

// buildDataRoom unifies supporting sources, references, and material URLs
// into one manifest, downloads the first few, and keeps only PDFs on disk.
func (a *Assembler) buildDataRoom(ctx context.Context, p *payload.Payload, baseDir string) error {
	dataRoomDir := filepath.Join(baseDir, "data_room")
	if err := os.MkdirAll(dataRoomDir, 0o755); err != nil {
		return &Error{Msg: "creating data_room directory", Err: err}
	}

	var primaryURL string
	if p.GroundTruth != nil {
		primaryURL = strings.TrimSpace(p.GroundTruth.Primary.URL)
	}

	seen := make(map[string]struct{})
	var unified []*manifestEntry
	add := func(entry *manifestEntry) {
		url := strings.TrimSpace(entry.URL)
		if url == "" || url == primaryURL {
			return
		}
		if _, dup := seen[url]; dup {
			return
		}
		seen[url] = struct{}{}
		if entry.Title == "" {
			entry.Title = url
		}
		unified = append(unified, entry)
	}

	// Supporting sources lead the manifest, then references, then URLs
	// found inside provided materials.
	if p.GroundTruth != nil {
		for _, src := range p.GroundTruth.Supporting {
			add(&manifestEntry{
				Title: src.Title, URL: src.URL, Snippet: src.Snippet,
				Source: src.Origin, Date: src.Date, Type: "reference",
			})
		}
	}
	refs := p.References
	if len(refs) == 0 {
		refs = p.SearchResults
	}
	for _, ref := range refs {
		add(&manifestEntry{
			Title: ref.Title, URL: ref.URL, Snippet: ref.Snippet,
			Source: ref.Source, Date: ref.Date, Type: "reference",
		})
	}
	for _, material := range p.InputsAndResources.ProvidedMaterials {
		for _, raw := range materialURLPattern.FindAllString(material, -1) {
			title := strings.TrimSpace(material)
			if runes := []rune(title); len(runes) > 160 {
				title = string(runes[:160])
			}
			add(&manifestEntry{Title: title, URL: strings.TrimSpace(raw), Type: "reference"})
		}
	}

	if a.opts.IncludeReferences && a.opts.ReferenceLimit != 0 {
		limit := a.opts.ReferenceLimit
		if limit < 0 || limit > len(unified) {
			limit = len(unified)
		}
		for i := 0; i < limit; i++ {
			a.fetchReference(ctx, unified[i], dataRoomDir, fmt.Sprintf("reference-%d", i+1))
		}
	}

	manifest := append([]*manifestEntry(nil), unified...)
	manifest = append(manifest, a.packageContextSources(ctx, p, dataRoomDir)...)
	return writeJSON(filepath.Join(dataRoomDir, "references.json"), manifest)
}

// fetchReference downloads one manifest entry, deleting anything that is not
// a PDF. Non-PDF references stay URL-only in the manifest.
func (a *Assembler) fetchReference(ctx context.Context, entry *manifestEntry, dir, prefix string) {
	path, contentType, err := a.downloadResource(ctx, entry.URL, dir, prefix)
	if err != nil {
		a.logger.Debug("reference download failed",
			zap.String("url", entry.URL), zap.Error(err))
		return
	}
	if !strings.Contains(strings.ToLower(contentType), "pdf") {
		os.Remove(path)
		return
	}
	entry.LocalPath = path
	entry.ContentType = contentType
}

// packageContextSources copies local context PDFs into the data room and
// tries URL-only sources, again keeping PDFs only.
func (a *Assembler) packageContextSources(ctx context.Context, p *payload.Payload, dataRoomDir string) []*manifestEntry {
	var entries []*manifestEntry
	for _, src := range p.ContextSources {
		entry := &manifestEntry{
			Title:       src.Name,
			URL:         src.SourceURL,
			LocalPath:   src.LocalPath,
			ContentType: src.ContentType,
			SHA256:      src.SHA256,
			Snippet:     src.Snippet,
			Type:        "context_document",
		}
		if entry.Title == "" {
			entry.Title = src.SourceURL
		}

		switch {
		case src.LocalPath != "":
			if strings.EqualFold(filepath.Ext(src.LocalPath), ".pdf") {
				if _, err := os.Stat(src.LocalPath); err == nil {
					stem := strings.TrimSuffix(filepath.Base(src.LocalPath), filepath.Ext(src.LocalPath))
					dest := filepath.Join(dataRoomDir, "context-"+groundtruth.SanitizeFilename(stem)+".pdf")
					if err := copyFile(src.LocalPath, dest); err == nil {
						entry.PackagePath = dest
						if entry.ContentType == "" {
							entry.ContentType = "application/pdf"
						}
					}
				}
			}
		case src.SourceURL != "":
			path, contentType, err := a.downloadResource(ctx, src.SourceURL, dataRoomDir, "context-ref")
			if err == nil {
				if strings.Contains(strings.ToLower(contentType), "pdf") {
					entry.PackagePath = path
					entry.ContentType = contentType
				} else {
					os.Remove(path)
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func (a *Assembler) downloadResource(ctx context.Context, url, destDir, prefix string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/119.0 Safari/537.36")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return "", "", err
	}

	contentType := resp.Header.Get("Content-Type")
	name := groundtruth.SanitizeFilename(prefix)
	if name == "" {
		name = "file"
	}
	path := filepath.Join(destDir, name+groundtruth.GuessExtension(contentType, url))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", err
	}
	return path, contentType, nil
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return &Error{Msg: "encoding " + filepath.Base(path), Err: err}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return &Error{Msg: "writing " + filepath.Base(path), Err: err}
	}
	return nil
}
