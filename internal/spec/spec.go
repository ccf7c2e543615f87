// Package spec defines the task specification model for the query
// construction pipeline: levels, orientations, search queries, and the
// persona/context bundle attached to each task.
package spec

import (
	"fmt"
	"regexp"
	"strings"
)

// Level ordinals recognized by the pipeline, lowest to highest.
const (
	LevelL3 = "L3"
	LevelL4 = "L4"
	LevelL5 = "L5"
)

// Orientation values.
const (
	OrientationPositive = "positive"
	OrientationInverse  = "inverse"
)

// ValidationError reports a malformed specification. It is fatal and never
// retried.
type ValidationError struct {
	QueryID string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.QueryID == "" {
		return fmt.Sprintf("invalid specification: %s", e.Reason)
	}
	return fmt.Sprintf("invalid specification %q: %s", e.QueryID, e.Reason)
}

// PersonaProfile represents a simulated user persona within a profession.
type PersonaProfile struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Seniority   string   `json:"seniority" yaml:"seniority"`
	Description string   `json:"description" yaml:"description"`
	Motivations []string `json:"motivations" yaml:"motivations"`
	PainPoints  []string `json:"pain_points" yaml:"pain_points"`
}

// ContextBundle carries the structured context delivered to the prompt
// builder and the final payload.
type ContextBundle struct {
	Persona         PersonaProfile `json:"persona" yaml:"persona"`
	UserStatement   string         `json:"user_statement" yaml:"user_statement"`
	Constraints     []string       `json:"constraints" yaml:"constraints"`
	AvailableAssets []string       `json:"available_assets" yaml:"available_assets"`
	SuccessMetrics  []string       `json:"success_metrics" yaml:"success_metrics"`
}

// Clone returns a deep copy of the bundle.
func (b *ContextBundle) Clone() *ContextBundle {
	if b == nil {
		return nil
	}
	dup := *b
	dup.Persona.Motivations = append([]string(nil), b.Persona.Motivations...)
	dup.Persona.PainPoints = append([]string(nil), b.Persona.PainPoints...)
	dup.Constraints = append([]string(nil), b.Constraints...)
	dup.AvailableAssets = append([]string(nil), b.AvailableAssets...)
	dup.SuccessMetrics = append([]string(nil), b.SuccessMetrics...)
	return &dup
}

// ContextDocument is a supplementary document attached to a specification.
type ContextDocument struct {
	Name        string `json:"name" yaml:"name"`
	Path        string `json:"path" yaml:"path"`
	Source      string `json:"source" yaml:"source"`
	SHA256      string `json:"sha256" yaml:"sha256"`
	ContentType string `json:"content_type" yaml:"content_type"`
	Query       string `json:"query" yaml:"query"`
	Content     string `json:"content" yaml:"content"`
}

// Spec is the declarative configuration for a single query to be generated.
// SearchQueries is always non-empty for a validated Spec.
type Spec struct {
	QueryID                 string
	Level                   string
	Scenario                string
	SearchQueries           []string
	Language                string
	TaskFocus               []string
	DeliverableRequirements []string
	EvaluationFocus         []string
	Notes                   string
	Orientation             string
	Industry                string
	Profession              string
	Context                 *ContextBundle
	TaskMetadata            map[string]any
	ContextDocuments        []ContextDocument
}

var querySplitter = regexp.MustCompile(`[;,，；]+`)

// NormalizeSearchQueries splits raw query strings on ASCII and full-width
// separators, trims whitespace, and deduplicates preserving insertion order.
func NormalizeSearchQueries(raw []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, item := range raw {
		for _, part := range querySplitter.Split(item, -1) {
			q := strings.TrimSpace(part)
			if q == "" {
				continue
			}
			if _, ok := seen[q]; ok {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	return out
}

// NormalizedLevel returns the canonical upper-case level, or a
// ValidationError for anything outside L3/L4/L5.
func (s *Spec) NormalizedLevel() (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(s.Level))
	switch upper {
	case LevelL3, LevelL4, LevelL5:
		return upper, nil
	}
	return "", &ValidationError{
		QueryID: s.QueryID,
		Reason:  fmt.Sprintf("unsupported level %q, expected one of L3/L4/L5", s.Level),
	}
}

// NormalizedOrientation returns the canonical lower-case orientation. An
// empty orientation defaults to positive; anything else outside the two
// recognized values is a ValidationError.
func (s *Spec) NormalizedOrientation() (string, error) {
	value := strings.ToLower(strings.TrimSpace(s.Orientation))
	if value == "" {
		value = OrientationPositive
	}
	switch value {
	case OrientationPositive, OrientationInverse:
		return value, nil
	}
	return "", &ValidationError{
		QueryID: s.QueryID,
		Reason:  fmt.Sprintf("unsupported orientation %q, expected 'positive' or 'inverse'", s.Orientation),
	}
}

// PrimaryQuery returns the first search query, the baseline used for
// domain-refinement retries.
func (s *Spec) PrimaryQuery() string {
	if len(s.SearchQueries) == 0 {
		return ""
	}
	return s.SearchQueries[0]
}

// SetSearchQueries normalizes and installs the search query list, failing
// validation when the normalized list is empty.
func (s *Spec) SetSearchQueries(raw []string) error {
	normalized := NormalizeSearchQueries(raw)
	if len(normalized) == 0 {
		return &ValidationError{QueryID: s.QueryID, Reason: "search queries must not be empty"}
	}
	s.SearchQueries = normalized
	return nil
}

// Validate checks all hard invariants at once.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.QueryID) == "" {
		return &ValidationError{Reason: "query_id must not be empty"}
	}
	if len(s.SearchQueries) == 0 {
		return &ValidationError{QueryID: s.QueryID, Reason: "search queries must not be empty"}
	}
	if _, err := s.NormalizedLevel(); err != nil {
		return err
	}
	if _, err := s.NormalizedOrientation(); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy of the specification.
func (s *Spec) Clone() *Spec {
	dup := *s
	dup.SearchQueries = append([]string(nil), s.SearchQueries...)
	dup.TaskFocus = append([]string(nil), s.TaskFocus...)
	dup.DeliverableRequirements = append([]string(nil), s.DeliverableRequirements...)
	dup.EvaluationFocus = append([]string(nil), s.EvaluationFocus...)
	dup.ContextDocuments = append([]ContextDocument(nil), s.ContextDocuments...)
	dup.Context = s.Context.Clone()
	if s.TaskMetadata != nil {
		dup.TaskMetadata = make(map[string]any, len(s.TaskMetadata))
		for k, v := range s.TaskMetadata {
			dup.TaskMetadata[k] = v
		}
	}
	return &dup
}

// Metadata renders the spec block embedded into generated payloads.
func (s *Spec) Metadata() map[string]any {
	level, _ := s.NormalizedLevel()
	orientation, _ := s.NormalizedOrientation()
	md := map[string]any{
		"query_id":       s.QueryID,
		"level":          level,
		"language":       s.Language,
		"search_query":   s.PrimaryQuery(),
		"search_queries": append([]string(nil), s.SearchQueries...),
		"notes":          s.Notes,
		"orientation":    orientation,
		"industry":       s.Industry,
		"profession":     s.Profession,
		"task_metadata":  s.TaskMetadata,
	}
	if s.Context != nil {
		md["context"] = s.Context
	}
	if len(s.ContextDocuments) > 0 {
		md["context_documents"] = s.ContextDocuments
	}
	return md
}
