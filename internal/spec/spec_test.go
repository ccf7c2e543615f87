package spec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec(id string) *Spec {
	return &Spec{
		QueryID:       id,
		Level:         "L3",
		Scenario:      "完成一次标准流程梳理",
		SearchQueries: []string{"质量管理 标准流程 2024"},
		Language:      "zh",
		Orientation:   OrientationPositive,
	}
}

func TestNormalizeSearchQueries(t *testing.T) {
	t.Run("splits on ascii and full-width separators", func(t *testing.T) {
		got := NormalizeSearchQueries([]string{"a; b，c；d, e"})
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	})

	t.Run("dedups preserving insertion order", func(t *testing.T) {
		got := NormalizeSearchQueries([]string{"alpha", "beta; alpha", "beta"})
		assert.Equal(t, []string{"alpha", "beta"}, got)
	})

	t.Run("drops blank fragments", func(t *testing.T) {
		got := NormalizeSearchQueries([]string{" ; ,  "})
		assert.Empty(t, got)
	})
}

func TestNormalizedLevel(t *testing.T) {
	s := validSpec("q1")

	for _, level := range []string{"L3", "l4", " L5 "} {
		s.Level = level
		got, err := s.NormalizedLevel()
		require.NoError(t, err)
		assert.Equal(t, strings.ToUpper(strings.TrimSpace(level)), got)
	}

	for _, level := range []string{"", "L2", "L6", "hard"} {
		s.Level = level
		_, err := s.NormalizedLevel()
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "q1", verr.QueryID)
	}
}

func TestNormalizedOrientation(t *testing.T) {
	s := validSpec("q1")

	s.Orientation = ""
	got, err := s.NormalizedOrientation()
	require.NoError(t, err)
	assert.Equal(t, OrientationPositive, got)

	s.Orientation = "Inverse"
	got, err = s.NormalizedOrientation()
	require.NoError(t, err)
	assert.Equal(t, OrientationInverse, got)

	s.Orientation = "negative"
	_, err = s.NormalizedOrientation()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidate(t *testing.T) {
	t.Run("accepts well-formed spec", func(t *testing.T) {
		require.NoError(t, validSpec("q1").Validate())
	})

	t.Run("rejects empty search queries", func(t *testing.T) {
		s := validSpec("q1")
		s.SearchQueries = nil
		var verr *ValidationError
		require.ErrorAs(t, s.Validate(), &verr)
	})

	t.Run("rejects missing query id", func(t *testing.T) {
		s := validSpec("")
		var verr *ValidationError
		require.ErrorAs(t, s.Validate(), &verr)
	})
}

func TestCloneIsDeep(t *testing.T) {
	s := validSpec("q1")
	s.Context = &ContextBundle{
		Persona:     PersonaProfile{ID: "p1", Motivations: []string{"deliver"}},
		Constraints: []string{"traceable"},
	}
	dup := s.Clone()
	dup.SearchQueries[0] = "changed"
	dup.Context.Constraints[0] = "changed"
	dup.Context.Persona.Motivations[0] = "changed"

	assert.Equal(t, "质量管理 标准流程 2024", s.SearchQueries[0])
	assert.Equal(t, "traceable", s.Context.Constraints[0])
	assert.Equal(t, "deliver", s.Context.Persona.Motivations[0])
}

func TestExpanderBuildsOneInversePerPositive(t *testing.T) {
	e := NewExpander()
	specs := []*Spec{validSpec("q1"), validSpec("q2")}
	inv := validSpec("q3")
	inv.Orientation = OrientationInverse
	specs = append(specs, inv)

	expanded, err := e.Expand(specs)
	require.NoError(t, err)
	require.Len(t, expanded, 5)

	assert.Equal(t, "q1", expanded[0].QueryID)
	assert.Equal(t, "q1-inverse", expanded[1].QueryID)
	assert.Equal(t, OrientationInverse, expanded[1].Orientation)
	assert.Equal(t, "q2-inverse", expanded[3].QueryID)
	// Existing inverse passes through untouched, never re-inverted.
	assert.Same(t, inv, expanded[4])
}

func TestExpanderResolvesIDCollisions(t *testing.T) {
	e := NewExpander()
	taken := validSpec("q1-inverse")
	taken.Orientation = OrientationInverse
	expanded, err := e.Expand([]*Spec{validSpec("q1"), taken})
	require.NoError(t, err)
	require.Len(t, expanded, 3)
	assert.Equal(t, "q1-inverse-2", expanded[1].QueryID)
}

func TestExpanderNotesHintIdempotent(t *testing.T) {
	e := NewExpander()
	s := validSpec("q1")
	s.Notes = "已有备注。" + InverseNotesHint

	inverse, err := e.BuildInverse(s, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(inverse.Notes, InverseNotesHint))

	// A fresh spec gets the hint exactly once too.
	s2 := validSpec("q2")
	s2.Notes = "时间盒：1周"
	inverse2, err := e.BuildInverse(s2, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(inverse2.Notes, InverseNotesHint))
	assert.True(t, strings.HasPrefix(inverse2.Notes, "时间盒：1周"))
}

func TestExpanderRejectsUnknownOrientation(t *testing.T) {
	e := NewExpander()
	bad := validSpec("q1")
	bad.Orientation = "sideways"
	_, err := e.Expand([]*Spec{bad})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
