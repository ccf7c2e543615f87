// Package config loads task specifications from YAML or JSON batch files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"queryforge/internal/spec"
)

// stringList accepts either a single string or a list of strings in the
// source document.
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = stringList{single}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = stringList(list)
		return nil
	}
	return fmt.Errorf("search queries must be a string or a list of strings")
}

func (s *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = stringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("search queries must be a string or a list of strings")
	}
	*s = stringList(list)
	return nil
}

type specEntry struct {
	QueryID                 string                 `yaml:"query_id" json:"query_id"`
	Level                   string                 `yaml:"level" json:"level"`
	Scenario                string                 `yaml:"scenario" json:"scenario"`
	SearchQuery             stringList             `yaml:"search_query" json:"search_query"`
	SearchQueries           stringList             `yaml:"search_queries" json:"search_queries"`
	Language                string                 `yaml:"language" json:"language"`
	TaskFocus               []string               `yaml:"task_focus" json:"task_focus"`
	DeliverableRequirements []string               `yaml:"deliverable_requirements" json:"deliverable_requirements"`
	EvaluationFocus         []string               `yaml:"evaluation_focus" json:"evaluation_focus"`
	Notes                   string                 `yaml:"notes" json:"notes"`
	Orientation             string                 `yaml:"orientation" json:"orientation"`
	Industry                string                 `yaml:"industry" json:"industry"`
	Profession              string                 `yaml:"profession" json:"profession"`
	Context                 *spec.ContextBundle    `yaml:"context" json:"context"`
	TaskMetadata            map[string]any         `yaml:"task_metadata" json:"task_metadata"`
	ContextDocuments        []spec.ContextDocument `yaml:"context_documents" json:"context_documents"`
}

type batchFile struct {
	Queries []specEntry `yaml:"queries" json:"queries"`
}

// LoadSpecs reads task specifications from a .yaml/.yml/.json file. The
// document is either a list of entries or an object with a "queries" key.
// Every entry is validated before the batch is returned.
func LoadSpecs(path string) ([]*spec.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var decode func(data []byte, v any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decode = yaml.Unmarshal
	case ".json":
		decode = json.Unmarshal
	default:
		return nil, fmt.Errorf("config file must be .yaml, .yml or .json: %s", path)
	}

	// A mapping document carries its entries under "queries"; a sequence
	// document is the entry list itself. The mapping decode fails on a
	// sequence, so trying it first disambiguates the two shapes.
	var entries []specEntry
	var wrapped batchFile
	if err := decode(data, &wrapped); err == nil {
		entries = wrapped.Queries
	} else if err := decode(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("config %s contains no query entries", path)
	}

	specs := make([]*spec.Spec, 0, len(entries))
	for _, entry := range entries {
		s, err := entry.toSpec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

func (e specEntry) toSpec() (*spec.Spec, error) {
	language := e.Language
	if language == "" {
		language = "zh"
	}
	s := &spec.Spec{
		QueryID:                 e.QueryID,
		Level:                   e.Level,
		Scenario:                e.Scenario,
		Language:                language,
		TaskFocus:               e.TaskFocus,
		DeliverableRequirements: e.DeliverableRequirements,
		EvaluationFocus:         e.EvaluationFocus,
		Notes:                   e.Notes,
		Orientation:             e.Orientation,
		Industry:                e.Industry,
		Profession:              e.Profession,
		Context:                 e.Context,
		TaskMetadata:            e.TaskMetadata,
		ContextDocuments:        e.ContextDocuments,
	}

	queries := e.SearchQueries
	if len(queries) == 0 {
		queries = e.SearchQuery
	}
	if len(queries) == 0 {
		return nil, &spec.ValidationError{
			QueryID: e.QueryID,
			Reason:  "entry must include 'search_query' or 'search_queries'",
		}
	}
	if err := s.SetSearchQueries(queries); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
