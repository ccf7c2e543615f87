package groundtruth

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"queryforge/internal/search"
	"queryforge/internal/spec"
)

// ProbeFunc reports whether a URL is actually fetchable. Probes are
// best-effort; a false result only demotes the candidate.
type ProbeFunc func(ctx context.Context, url string) bool

// RefineFunc runs a follow-up search, used for the domain-refinement retry
// when no viable candidate survives filtering.
type RefineFunc func(ctx context.Context, query string) ([]search.Result, error)

// SelectorConfig wires the selector's collaborators. Zero values get
// defaults: an HTTP GET probe, no refinement, three supporting sources.
type SelectorConfig struct {
	Probe         ProbeFunc
	Refine        RefineFunc
	Logger        *zap.Logger
	MaxSupporting int
}

// Selector picks the primary ground-truth artifact and its supporting
// sources out of a search round.
type Selector struct {
	probe         ProbeFunc
	refine        RefineFunc
	logger        *zap.Logger
	maxSupporting int
}

func NewSelector(cfg SelectorConfig) *Selector {
	s := &Selector{
		probe:         cfg.Probe,
		refine:        cfg.Refine,
		logger:        cfg.Logger,
		maxSupporting: cfg.MaxSupporting,
	}
	if s.probe == nil {
		s.probe = defaultProbe
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxSupporting <= 0 {
		s.maxSupporting = 3
	}
	return s
}

// defaultProbe issues a GET without reading the body. HEAD is avoided since
// many document hosts reject it.
func defaultProbe(ctx context.Context, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; queryforge/1.0)")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

var domainPattern = regexp.MustCompile(`([a-zA-Z0-9.-]+\.[a-z]{2,})`)

// extractDomains pulls up to three candidate domains out of a snippet for
// the refinement retry.
func extractDomains(snippet string) []string {
	if snippet == "" {
		return nil
	}
	var domains []string
	for _, match := range domainPattern.FindAllString(snippet, -1) {
		domain := strings.ToLower(match)
		banned := false
		for _, skip := range skipDomains {
			if strings.HasSuffix(domain, skip) {
				banned = true
				break
			}
		}
		if banned {
			continue
		}
		dup := false
		for _, existing := range domains {
			if existing == domain {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		domains = append(domains, domain)
		if len(domains) >= 3 {
			break
		}
	}
	return domains
}

// Select chooses the bundle for one task. Candidates are filtered for
// viability, ranked by artifact quality, and preferentially drawn from those
// the probe confirms reachable. When nothing viable survives, a
// domain-refinement retry re-searches the domains mentioned in snippets;
// failing that, the first raw result is used and the bundle is marked
// degraded.
func (s *Selector) Select(ctx context.Context, task *spec.Spec, results []search.Result) (*Bundle, error) {
	if len(results) == 0 {
		return nil, search.Errorf("no search results available for %s", task.QueryID)
	}

	var viable []search.Result
	for _, r := range results {
		if IsViable(r.URL) {
			viable = append(viable, r)
		}
	}
	sort.SliceStable(viable, func(i, j int) bool {
		ri, li := primaryRank(viable[i].URL)
		rj, lj := primaryRank(viable[j].URL)
		if ri != rj {
			return ri < rj
		}
		return li < lj
	})

	var reachable []search.Result
	for _, r := range viable {
		if s.probe(ctx, r.URL) {
			reachable = append(reachable, r)
		}
	}
	ordered := reachable
	if len(ordered) == 0 {
		ordered = viable
	}

	if len(ordered) > 0 {
		primary := ordered[0]
		return &Bundle{
			Primary:    FromResult(primary),
			Supporting: s.pickSupporting(results, primary),
		}, nil
	}

	if bundle := s.refineByDomain(ctx, task, results); bundle != nil {
		return bundle, nil
	}

	s.logger.Warn("no viable ground truth, falling back to first raw result",
		zap.String("query_id", task.QueryID),
		zap.String("url", results[0].URL))
	primary := results[0]
	return &Bundle{
		Primary:    FromResult(primary),
		Supporting: s.pickSupporting(results, primary),
		Degraded:   true,
	}, nil
}

// refineByDomain re-searches the primary query scoped to domains mentioned
// in result snippets. Returns nil when refinement finds nothing viable.
func (s *Selector) refineByDomain(ctx context.Context, task *spec.Spec, results []search.Result) *Bundle {
	if s.refine == nil {
		return nil
	}
	for _, r := range results {
		for _, domain := range extractDomains(r.Snippet) {
			refined, err := s.refine(ctx, "site:"+domain+" "+task.PrimaryQuery())
			if err != nil {
				continue
			}
			var refinedViable []search.Result
			for _, cand := range refined {
				if IsViable(cand.URL) {
					refinedViable = append(refinedViable, cand)
				}
			}
			if len(refinedViable) == 0 {
				continue
			}
			supporting := make([]Source, 0, s.maxSupporting)
			for _, cand := range refinedViable[1:] {
				supporting = append(supporting, FromResult(cand))
				if len(supporting) >= s.maxSupporting {
					break
				}
			}
			s.logger.Info("domain refinement produced a ground truth",
				zap.String("query_id", task.QueryID),
				zap.String("domain", domain))
			return &Bundle{Primary: FromResult(refinedViable[0]), Supporting: supporting}
		}
	}
	return nil
}

// pickSupporting keeps the original result order, skips the primary, and
// caps the list.
func (s *Selector) pickSupporting(results []search.Result, primary search.Result) []Source {
	var supporting []Source
	for _, r := range results {
		if r.Key() == primary.Key() {
			continue
		}
		if !IsViable(r.URL) {
			continue
		}
		supporting = append(supporting, FromResult(r))
		if len(supporting) >= s.maxSupporting {
			break
		}
	}
	return supporting
}
