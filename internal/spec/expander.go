package spec

import (
	"fmt"
	"strings"
)

// InverseNotesHint is the guidance appended to the notes of every
// auto-generated inverse task. The append is idempotent: specs whose notes
// already contain the hint are left unchanged.
const InverseNotesHint = "本任务为负向任务：请参考《inverse_agency.md》，沿用其中总结的三类陷阱设计思路" +
	"（违反领域根律、引用错误/不可复现数据、资源或能力根本不可行），重点考察智能体识别矛盾并" +
	"提交证伪过程的能力。确保最终目标是得出“任务不可完成或前提有误”的结论，而非继续推进原需求。"

// Expander turns positive specifications into positive+inverse pairs while
// tracking identifiers seen so far to keep inverse IDs unique.
type Expander struct {
	hint string
}

// NewExpander returns an Expander using the default guidance hint.
func NewExpander() *Expander {
	return &Expander{hint: InverseNotesHint}
}

// NewExpanderWithHint overrides the guidance hint, used in tests.
func NewExpanderWithHint(hint string) *Expander {
	return &Expander{hint: hint}
}

func ensureInverseNotes(notes, hint string) string {
	text := strings.TrimSpace(notes)
	if strings.Contains(text, hint) {
		return text
	}
	if text == "" {
		return hint
	}
	return text + "\n" + hint
}

// BuildInverse clones a positive-orientation spec into its inverse
// counterpart. The clone's identifier is "<id>-inverse", suffixed with an
// incrementing counter on collision against seen. seen is updated with the
// chosen identifier.
func (e *Expander) BuildInverse(s *Spec, seen map[string]struct{}) (*Spec, error) {
	orientation, err := s.NormalizedOrientation()
	if err != nil {
		return nil, err
	}
	if orientation != OrientationPositive {
		return nil, &ValidationError{QueryID: s.QueryID, Reason: "only positive tasks can be inverted"}
	}

	baseID := s.QueryID + "-inverse"
	candidate := baseID
	if seen != nil {
		for counter := 1; ; counter++ {
			if _, taken := seen[candidate]; !taken {
				break
			}
			candidate = fmt.Sprintf("%s-%d", baseID, counter+1)
		}
		seen[candidate] = struct{}{}
	}

	inverse := s.Clone()
	inverse.QueryID = candidate
	inverse.Orientation = OrientationInverse
	inverse.Notes = ensureInverseNotes(s.Notes, e.hint)
	return inverse, nil
}

// Expand appends an inverse variant after every positive specification.
// Inverse-orientation specs pass through unchanged and are never
// re-inverted. An unrecognized orientation fails the whole expansion.
func (e *Expander) Expand(specs []*Spec) ([]*Spec, error) {
	seen := make(map[string]struct{}, len(specs)*2)
	for _, s := range specs {
		seen[s.QueryID] = struct{}{}
	}

	expanded := make([]*Spec, 0, len(specs)*2)
	for _, s := range specs {
		expanded = append(expanded, s)
		orientation, err := s.NormalizedOrientation()
		if err != nil {
			return nil, err
		}
		if orientation != OrientationPositive {
			continue
		}
		inverse, err := e.BuildInverse(s, seen)
		if err != nil {
			return nil, err
		}
		expanded = append(expanded, inverse)
	}
	return expanded, nil
}
