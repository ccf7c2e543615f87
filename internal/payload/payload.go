// Package payload models the generated task document and normalizes it
// after model output: field backfill, ground-truth consolidation, material
// exclusion, terminology scrubbing, internal-scope sanitization, and
// compliance rewriting.
package payload

import (
	"encoding/json"

	"queryforge/internal/groundtruth"
	"queryforge/internal/search"
	"queryforge/internal/spec"
)

// InputsAndResources is the solver-facing description of what the task
// provides and permits.
type InputsAndResources struct {
	ProvidedMaterials       []string `json:"provided_materials"`
	AllowedExternalResearch string   `json:"allowed_external_research,omitempty"`
	ReferenceUsage          string   `json:"reference_usage,omitempty"`
	GroundTruthUsage        string   `json:"ground_truth_usage,omitempty"`
}

// Deliverables describes the expected outputs and their quality bar.
type Deliverables struct {
	ExpectedOutputs    []string `json:"expected_outputs"`
	FormatRequirements string   `json:"format_requirements,omitempty"`
	QualityBar         string   `json:"quality_bar,omitempty"`
}

// StandardAnswer is the judge-facing answer sketch.
type StandardAnswer struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// EvaluationGuide is the judge-facing scoring guide.
type EvaluationGuide struct {
	Summary       string   `json:"summary"`
	Checkpoints   []string `json:"checkpoints"`
	ScoringRubric []string `json:"scoring_rubric"`
}

// ContextSource records the provenance of a supplementary context document.
type ContextSource struct {
	Name        string `json:"name,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	LocalPath   string `json:"local_path,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Query       string `json:"query,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
}

// GroundTruth is the judge-only evidence block.
type GroundTruth struct {
	Primary    groundtruth.Source           `json:"primary"`
	Supporting []groundtruth.Source         `json:"supporting"`
	UsageNotes string                       `json:"usage_notes,omitempty"`
	Cache      *groundtruth.BundleArtifacts `json:"cache,omitempty"`
	Degraded   bool                         `json:"degraded,omitempty"`
}

// Payload is one generated task document. Fields the model emits outside the
// schema survive round-trips through Extra.
type Payload struct {
	QueryID              string              `json:"query_id"`
	Level                string              `json:"level"`
	Orientation          string              `json:"orientation,omitempty"`
	Title                string              `json:"title,omitempty"`
	RoleAndBackground    string              `json:"role_and_background,omitempty"`
	TaskObjectives       []string            `json:"task_objectives,omitempty"`
	InputsAndResources   InputsAndResources  `json:"inputs_and_resources"`
	Deliverables         Deliverables        `json:"deliverables"`
	GradingRubric        []string            `json:"grading_rubric,omitempty"`
	ToolUsageExpectation string              `json:"tool_usage_expectation,omitempty"`
	EstimatedHumanTime   string              `json:"estimated_human_time,omitempty"`
	Context              *spec.ContextBundle `json:"context,omitempty"`
	ContextSources       []ContextSource     `json:"context_sources,omitempty"`
	GroundTruth          *GroundTruth        `json:"ground_truth,omitempty"`
	References           []search.Result     `json:"references"`
	SearchResults        []search.Result     `json:"search_results,omitempty"`
	StandardAnswer       *StandardAnswer     `json:"standard_answer,omitempty"`
	EvaluationGuide      *EvaluationGuide    `json:"evaluation_guide,omitempty"`
	Notes                string              `json:"notes,omitempty"`
	SOPVersion           string              `json:"sop_version,omitempty"`
	SpecMetadata         map[string]any      `json:"spec_metadata,omitempty"`
	PackagePath          string              `json:"package_path,omitempty"`

	// Extra holds unrecognized top-level keys so nothing the model emitted
	// is silently dropped.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownPayloadKeys = []string{
	"query_id", "level", "orientation", "title", "role_and_background",
	"task_objectives", "inputs_and_resources", "deliverables",
	"grading_rubric", "tool_usage_expectation", "estimated_human_time",
	"context", "context_sources", "ground_truth", "references",
	"search_results", "standard_answer", "evaluation_guide", "notes",
	"sop_version", "spec_metadata", "package_path",
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range knownPayloadKeys {
		delete(raw, key)
	}
	if len(raw) > 0 {
		a.Extra = raw
	}
	*p = Payload(a)
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	type alias Payload
	known, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range p.Extra {
		if _, taken := merged[key]; !taken {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// FromMap converts a parsed model response into a Payload.
func FromMap(m map[string]any) (*Payload, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
