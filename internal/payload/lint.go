package payload

import (
	"regexp"
	"strings"

	"queryforge/internal/spec"
)

var trainingLanguage = regexp.MustCompile(`(?i)训练|fine-?tune|微调`)

// Lint returns rulebook violations found in a payload. Severity is not
// encoded; callers decide whether to fail or log.
func Lint(p *Payload) []string {
	var issues []string

	if p.RoleAndBackground == "" {
		issues = append(issues, "missing_field:role_and_background")
	}
	if len(p.TaskObjectives) == 0 {
		issues = append(issues, "missing_field:task_objectives")
	}
	if len(p.Deliverables.ExpectedOutputs) == 0 &&
		p.Deliverables.FormatRequirements == "" && p.Deliverables.QualityBar == "" {
		issues = append(issues, "missing_field:deliverables")
	}
	if len(p.GradingRubric) == 0 {
		issues = append(issues, "missing_field:grading_rubric")
	}

	gtURLs := make(map[string]struct{})
	if p.GroundTruth == nil || p.GroundTruth.Primary.URL == "" {
		issues = append(issues, "ground_truth:missing_primary_url")
	} else {
		gtURLs[p.GroundTruth.Primary.URL] = struct{}{}
		for _, src := range p.GroundTruth.Supporting {
			if src.URL != "" {
				gtURLs[src.URL] = struct{}{}
			}
		}
	}
	for _, ref := range p.References {
		if _, taken := gtURLs[ref.URL]; taken {
			issues = append(issues, "references:contains_ground_truth_url")
		}
	}

	if strings.EqualFold(p.Level, spec.LevelL4) {
		var blobs []string
		blobs = append(blobs, p.TaskObjectives...)
		blobs = append(blobs, p.Deliverables.ExpectedOutputs...)
		blobs = append(blobs, p.Deliverables.FormatRequirements, p.Deliverables.QualityBar)
		blobs = append(blobs, p.GradingRubric...)
		if p.EvaluationGuide != nil {
			blobs = append(blobs, p.EvaluationGuide.Checkpoints...)
			blobs = append(blobs, p.EvaluationGuide.ScoringRubric...)
		}
		if trainingLanguage.MatchString(strings.Join(blobs, "\n")) {
			issues = append(issues, "l4:no_training_language")
		}
	}

	return issues
}
