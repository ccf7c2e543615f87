package prompting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryforge/internal/groundtruth"
	"queryforge/internal/llm"
	"queryforge/internal/spec"
)

func sampleSpec() *spec.Spec {
	return &spec.Spec{
		QueryID:       "q1",
		Level:         "L4",
		Scenario:      "为制造企业复现一份产线优化分析",
		SearchQueries: []string{"产线优化 研报"},
		Language:      "zh",
		Industry:      "制造业",
		Profession:    "工艺工程师",
		Context: &spec.ContextBundle{
			Persona: spec.PersonaProfile{
				Name:        "李工",
				Seniority:   "资深",
				Description: "负责产线数字化改造",
				Motivations: []string{"降低停线时间"},
			},
			UserStatement: "我需要一份可以直接汇报的分析",
			Constraints:   []string{"两周内完成"},
		},
	}
}

func sampleBundle() *groundtruth.Bundle {
	return &groundtruth.Bundle{
		Primary: groundtruth.Source{
			Title:   "产线优化白皮书",
			URL:     "https://example.com/wp.pdf",
			Snippet: "行业权威分析",
			Date:    "2024-05-01",
		},
		Supporting: []groundtruth.Source{
			{Title: "补充研报", URL: "https://example.com/extra"},
		},
	}
}

func TestBuildMessagesShape(t *testing.T) {
	messages, err := BuildMessages(sampleSpec(), sampleBundle())
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, llm.RoleUser, messages[1].Role)

	system := messages[0].Content
	assert.Contains(t, system, "命题教师")
	assert.Contains(t, system, "SOP核心原则提醒")
	assert.NotContains(t, system, "负向任务】")

	user := messages[1].Content
	assert.Contains(t, user, "请使用中文输出。")
	assert.Contains(t, user, "L4（综合题 / 课程大作业）")
	assert.Contains(t, user, "行业: 制造业")
	assert.Contains(t, user, "Persona: 李工（资历：资深）")
	assert.Contains(t, user, "https://example.com/wp.pdf")
	assert.Contains(t, user, "补充研报")
	assert.Contains(t, user, `"query_id": string`)
	assert.Contains(t, user, `"ground_truth"`)
}

func TestBuildMessagesInverseOrientation(t *testing.T) {
	s := sampleSpec()
	s.Orientation = spec.OrientationInverse
	messages, err := BuildMessages(s, sampleBundle())
	require.NoError(t, err)

	assert.Contains(t, messages[0].Content, "当前任务为【负向任务】")
	assert.Contains(t, messages[1].Content, "负向任务构造提示")
	assert.Contains(t, messages[1].Content, "拒绝执行")
}

func TestBuildMessagesEnglishInstruction(t *testing.T) {
	s := sampleSpec()
	s.Language = "en"
	messages, err := BuildMessages(s, sampleBundle())
	require.NoError(t, err)
	assert.Contains(t, messages[1].Content, "Please respond in English.")
}

func TestBuildMessagesTruncatesContextDocs(t *testing.T) {
	s := sampleSpec()
	s.ContextDocuments = []spec.ContextDocument{
		{Name: "流程手册", Content: strings.Repeat("规", MaxContextCharsPerDoc+100)},
		{Name: "空文档", Content: "   "},
	}
	messages, err := BuildMessages(s, sampleBundle())
	require.NoError(t, err)

	user := messages[1].Content
	assert.Contains(t, user, "#### 流程手册")
	assert.Contains(t, user, "...[内容已截断]")
	assert.NotContains(t, user, "空文档")
	assert.Contains(t, messages[0].Content, "补充上下文文档")
}

func TestBuildMessagesNoSupportingSources(t *testing.T) {
	bundle := sampleBundle()
	bundle.Supporting = nil
	messages, err := BuildMessages(sampleSpec(), bundle)
	require.NoError(t, err)
	assert.Contains(t, messages[1].Content, "无额外参考资料")
}

func TestBuildMessagesRejectsBadLevel(t *testing.T) {
	s := sampleSpec()
	s.Level = "L9"
	_, err := BuildMessages(s, sampleBundle())
	var verr *spec.ValidationError
	require.ErrorAs(t, err, &verr)
}
