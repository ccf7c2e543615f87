package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryforge/internal/spec"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSpecsYAMLWithQueriesKey(t *testing.T) {
	path := writeConfig(t, "batch.yaml", `
queries:
  - query_id: q1
    level: L4
    scenario: 复现行业白皮书的关键结论
    search_query: 行业白皮书 2024 filetype:pdf
    task_focus:
      - 数据核对
  - query_id: q2
    level: l3
    scenario: 市场调研
    language: en
    orientation: inverse
    search_queries:
      - market sizing report
      - market share analysis
`)

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "q1", specs[0].QueryID)
	assert.Equal(t, "zh", specs[0].Language)
	assert.Equal(t, []string{"行业白皮书 2024 filetype:pdf"}, specs[0].SearchQueries)
	assert.Equal(t, []string{"数据核对"}, specs[0].TaskFocus)

	assert.Equal(t, "en", specs[1].Language)
	level, err := specs[1].NormalizedLevel()
	require.NoError(t, err)
	assert.Equal(t, "L3", level)
	assert.Equal(t, []string{"market sizing report", "market share analysis"}, specs[1].SearchQueries)
}

func TestLoadSpecsBareListJSON(t *testing.T) {
	path := writeConfig(t, "batch.json", `[
  {
    "query_id": "q1",
    "level": "L5",
    "scenario": "战略规划",
    "search_queries": "竞品分析; 行业趋势 2025"
  }
]`)

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	// Scalar search_queries is split on separators like a list would be.
	assert.Equal(t, []string{"竞品分析", "行业趋势 2025"}, specs[0].SearchQueries)
}

func TestLoadSpecsContextBundle(t *testing.T) {
	path := writeConfig(t, "batch.yaml", `
queries:
  - query_id: q1
    level: L4
    scenario: 数据复核
    search_query: 统计公报
    context:
      persona:
        id: analyst-1
        name: 李雯
        seniority: senior
      user_statement: 需要复核公开统计口径
      constraints:
        - 一周内完成
`)

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.NotNil(t, specs[0].Context)
	assert.Equal(t, "李雯", specs[0].Context.Persona.Name)
	assert.Equal(t, []string{"一周内完成"}, specs[0].Context.Constraints)
}

func TestLoadSpecsMissingSearchQuery(t *testing.T) {
	path := writeConfig(t, "batch.yaml", `
queries:
  - query_id: q1
    level: L3
    scenario: 调研
`)

	_, err := LoadSpecs(path)
	require.Error(t, err)
	var verr *spec.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "q1", verr.QueryID)
	assert.Contains(t, verr.Reason, "search_query")
}

func TestLoadSpecsInvalidLevel(t *testing.T) {
	path := writeConfig(t, "batch.yaml", `
queries:
  - query_id: q1
    level: L9
    scenario: 调研
    search_query: 报告
`)

	_, err := LoadSpecs(path)
	var verr *spec.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "L9")
}

func TestLoadSpecsRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "batch.toml", `query_id = "q1"`)
	_, err := LoadSpecs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".yaml")
}

func TestLoadSpecsEmptyDocument(t *testing.T) {
	t.Run("empty queries key", func(t *testing.T) {
		path := writeConfig(t, "batch.yaml", "queries: []\n")
		_, err := LoadSpecs(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no query entries")
	})

	t.Run("mapping without queries key", func(t *testing.T) {
		path := writeConfig(t, "batch.yaml", "version: 1\n")
		_, err := LoadSpecs(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no query entries")
	})

	t.Run("empty bare list", func(t *testing.T) {
		path := writeConfig(t, "batch.json", "[]\n")
		_, err := LoadSpecs(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no query entries")
	})
}
