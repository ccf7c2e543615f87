package groundtruth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryforge/internal/search"
	"queryforge/internal/spec"
)

func testSpec() *spec.Spec {
	return &spec.Spec{
		QueryID:       "q1",
		Level:         "L3",
		SearchQueries: []string{"行业白皮书 2024"},
		Language:      "zh",
	}
}

func allReachable(context.Context, string) bool { return true }

func newTestSelector(probe ProbeFunc, refine RefineFunc) *Selector {
	return NewSelector(SelectorConfig{Probe: probe, Refine: refine})
}

func TestSelectPrefersPDFOverHTML(t *testing.T) {
	results := []search.Result{
		{Title: "摘要页", URL: "https://example.com/article/overview"},
		{Title: "白皮书", URL: "https://example.com/whitepaper.pdf"},
		{Title: "博客", URL: "https://blog.example.com/post"},
	}

	bundle, err := newTestSelector(allReachable, nil).Select(context.Background(), testSpec(), results)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/whitepaper.pdf", bundle.Primary.URL)
	assert.False(t, bundle.Degraded)
}

func TestSelectRanksRepoAboveGenericPage(t *testing.T) {
	results := []search.Result{
		{URL: "https://example.com/docs/page"},
		{URL: "https://github.com/acme/tool"},
		{URL: "https://huggingface.co/acme/model"},
	}

	bundle, err := newTestSelector(allReachable, nil).Select(context.Background(), testSpec(), results)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/tool", bundle.Primary.URL)
}

func TestSelectShorterURLWinsWithinRank(t *testing.T) {
	results := []search.Result{
		{URL: "https://example.com/reports/2024/full/annual-report-final.pdf"},
		{URL: "https://example.com/r/2024.pdf"},
	}

	bundle, err := newTestSelector(allReachable, nil).Select(context.Background(), testSpec(), results)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/r/2024.pdf", bundle.Primary.URL)
}

func TestSupportingExcludesPrimaryAndKeepsOrder(t *testing.T) {
	results := []search.Result{
		{URL: "https://example.com/a.pdf"},
		{URL: "https://example.com/b"},
		{URL: "https://example.com/c"},
		{URL: "https://example.com/d"},
		{URL: "https://example.com/e"},
	}

	bundle, err := newTestSelector(allReachable, nil).Select(context.Background(), testSpec(), results)
	require.NoError(t, err)
	require.Len(t, bundle.Supporting, 3)
	for _, src := range bundle.Supporting {
		assert.NotEqual(t, bundle.Primary.URL, src.URL)
	}
	assert.Equal(t, "https://example.com/b", bundle.Supporting[0].URL)
	assert.Equal(t, "https://example.com/c", bundle.Supporting[1].URL)
	assert.Equal(t, "https://example.com/d", bundle.Supporting[2].URL)
}

func TestSelectFiltersNonViableCandidates(t *testing.T) {
	results := []search.Result{
		{URL: "https://duckduckgo.com/l/?x=1"},
		{URL: "https://example.com/logo.svg"},
		{URL: "ftp://example.com/file"},
		{URL: "https://example.com/real-page"},
	}

	bundle, err := newTestSelector(allReachable, nil).Select(context.Background(), testSpec(), results)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/real-page", bundle.Primary.URL)
	assert.Empty(t, bundle.Supporting)
}

func TestSelectUnreachableCandidatesDemoted(t *testing.T) {
	probe := func(_ context.Context, url string) bool {
		return url != "https://example.com/broken.pdf"
	}
	results := []search.Result{
		{URL: "https://example.com/broken.pdf"},
		{URL: "https://example.com/alive"},
	}

	bundle, err := newTestSelector(probe, nil).Select(context.Background(), testSpec(), results)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/alive", bundle.Primary.URL)
}

func TestSelectDomainRefinementRetry(t *testing.T) {
	var refinedQuery string
	refine := func(_ context.Context, query string) ([]search.Result, error) {
		refinedQuery = query
		return []search.Result{
			{URL: "https://stats.gov.cn/report.pdf"},
			{URL: "https://stats.gov.cn/annex"},
		}, nil
	}
	// Nothing viable in the direct results, but the snippet names a domain.
	results := []search.Result{
		{URL: "https://duckduckgo.com/r", Snippet: "详见 stats.gov.cn 官方发布"},
	}

	bundle, err := newTestSelector(allReachable, refine).Select(context.Background(), testSpec(), results)
	require.NoError(t, err)
	assert.Equal(t, "site:stats.gov.cn 行业白皮书 2024", refinedQuery)
	assert.Equal(t, "https://stats.gov.cn/report.pdf", bundle.Primary.URL)
	require.Len(t, bundle.Supporting, 1)
	assert.Equal(t, "https://stats.gov.cn/annex", bundle.Supporting[0].URL)
	assert.False(t, bundle.Degraded)
}

func TestSelectDegradedFallback(t *testing.T) {
	results := []search.Result{
		{URL: "https://duckduckgo.com/r", Title: "被墙的镜像"},
		{URL: "https://r.jina.ai/https://example.com"},
	}

	bundle, err := newTestSelector(allReachable, nil).Select(context.Background(), testSpec(), results)
	require.NoError(t, err)
	assert.True(t, bundle.Degraded)
	assert.Equal(t, "https://duckduckgo.com/r", bundle.Primary.URL)
}

func TestSelectEmptyResultsIsSearchError(t *testing.T) {
	_, err := newTestSelector(allReachable, nil).Select(context.Background(), testSpec(), nil)
	var serr *search.Error
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "q1")
}

func TestIsViable(t *testing.T) {
	assert.True(t, IsViable("https://example.com/doc.pdf"))
	assert.True(t, IsViable("file:///data/local.pdf"))
	assert.False(t, IsViable(""))
	assert.False(t, IsViable("ftp://example.com/doc"))
	assert.False(t, IsViable("https://apps.apple.com/app/x"))
	assert.False(t, IsViable("https://sub.itunes.apple.com/x"))
	assert.False(t, IsViable("https://example.com/font.woff2"))
}

func TestExtractDomains(t *testing.T) {
	domains := extractDomains("来源：stats.gov.cn 与 example.org，另见 r.jina.ai 镜像 stats.gov.cn")
	assert.Equal(t, []string{"stats.gov.cn", "example.org"}, domains)
}
