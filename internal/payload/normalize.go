package payload

import (
	"net/url"
	"regexp"
	"strings"

	"queryforge/internal/groundtruth"
	"queryforge/internal/search"
	"queryforge/internal/spec"
)

// SOPVersion tags every normalized payload.
const SOPVersion = "8.0"

// DefaultUsageNotes states the evidence policy attached to the ground-truth
// block when the model left it out.
const DefaultUsageNotes = "引用规范：优先使用Ground Truth（主+辅）作为判分依据；允许引用 references 列表中的公开资料作为补充，" +
	"需标注来源/访问日期/页码（或段落）；若与Ground Truth存在冲突，以Ground Truth为准。"

// internalScopeClause is appended to allowed_external_research when the
// context does not grant internal materials.
const internalScopeClause = "不得假设额外的公司内部资料，除非已在“提供的资料”中明确列出。"

const l4ToolUsage = "以单一核心Agent（Call Code或Deep Research）主导，强调检索-复核-对比；" +
	"禁止大规模训练，允许短时验证实验（≤2 GPU·小时）"

const l4NotesGuardrail = "资源与时间护栏：≤1周完成；仅使用公开可获取或合成数据；" +
	"禁止长时间/大规模训练；如需运行实验，仅限短时验证（≤2 GPU·小时）。"

// NormalizeInput carries everything the transform pipeline needs besides the
// payload itself.
type NormalizeInput struct {
	Task      *spec.Spec
	Bundle    *groundtruth.Bundle
	Artifacts *groundtruth.BundleArtifacts
	Results   []search.Result
}

// Normalize runs the transform pipeline in order. Every transform is
// idempotent, so normalizing an already-normalized payload is a no-op.
func Normalize(p *Payload, in NormalizeInput) error {
	if err := backfillFields(p, in.Task); err != nil {
		return err
	}
	consolidateGroundTruth(p, in)
	ensureDefaults(p)
	dropPrimaryFromProvidedMaterials(p)
	scrubGroundTruthTerms(p)
	sanitizeInternalScope(p, in.Task.Context)
	enforceL4Compliance(p)
	return nil
}

func backfillFields(p *Payload, task *spec.Spec) error {
	level, err := task.NormalizedLevel()
	if err != nil {
		return err
	}
	orientation, err := task.NormalizedOrientation()
	if err != nil {
		return err
	}
	if p.QueryID == "" {
		p.QueryID = task.QueryID
	}
	p.Level = level
	p.Orientation = orientation
	if p.Context == nil {
		p.Context = task.Context.Clone()
	}
	if len(p.ContextSources) == 0 && len(task.ContextDocuments) > 0 {
		for _, doc := range task.ContextDocuments {
			p.ContextSources = append(p.ContextSources, ContextSource{
				Name:        doc.Name,
				SourceURL:   doc.Source,
				LocalPath:   doc.Path,
				SHA256:      doc.SHA256,
				ContentType: doc.ContentType,
				Query:       doc.Query,
				Snippet:     doc.Content,
			})
		}
	}
	p.SOPVersion = SOPVersion
	p.SpecMetadata = task.Metadata()
	return nil
}

// consolidateGroundTruth overwrites the judge-only block with the selected
// bundle and rebuilds references so no ground-truth URL leaks into them.
func consolidateGroundTruth(p *Payload, in NormalizeInput) {
	gt := p.GroundTruth
	if gt == nil {
		gt = &GroundTruth{}
	}
	gt.Primary = in.Bundle.Primary
	gt.Supporting = in.Bundle.Supporting
	gt.Degraded = in.Bundle.Degraded
	if gt.UsageNotes == "" {
		gt.UsageNotes = DefaultUsageNotes
	}
	if gt.Cache == nil && in.Artifacts != nil {
		gt.Cache = in.Artifacts
	}
	p.GroundTruth = gt

	gtURLs := map[string]struct{}{gt.Primary.URL: {}}
	for _, src := range gt.Supporting {
		gtURLs[src.URL] = struct{}{}
	}
	p.References = make([]search.Result, 0, len(in.Results))
	for _, result := range in.Results {
		if _, taken := gtURLs[result.URL]; taken {
			continue
		}
		p.References = append(p.References, result)
	}
	p.SearchResults = append([]search.Result(nil), in.Results...)
}

func ensureDefaults(p *Payload) {
	if p.StandardAnswer == nil {
		p.StandardAnswer = &StandardAnswer{
			Summary: "请基于Ground Truth提炼关键论断并形成可验证的执行方案。",
			KeyPoints: []string{
				"覆盖任务目标、行动步骤与验收标准。",
				"每个关键判断引用Ground Truth并提供验证方式。",
			},
		}
	}
	if p.EvaluationGuide == nil {
		p.EvaluationGuide = &EvaluationGuide{
			Summary: "评估交付是否满足SOP 8.0（三E、训练/算力红线、安全合规与时间窗口）并与Ground Truth一致。",
			Checkpoints: []string{
				"任务范围、交付格式、验收标准均有明确说明（Executable）。",
				"关键判断可触发高阶能动性，考察目标明确（Examining）。",
				"评分标准可量化、可复核；与参考资料/基准有对齐指标（Evaluable）。",
				"遵守训练/算力红线：training-free；禁止从头训练或长时间/昂贵算力依赖。",
				"引用公开、中立、国际化资料；必要时脱敏；设定并遵守资料使用的时间窗口。",
			},
			ScoringRubric: append([]string(nil), p.GradingRubric...),
		}
	}
}

var materialURLPattern = regexp.MustCompile(`https?://[^\s)\]"]+`)

// dropPrimaryFromProvidedMaterials removes the primary artifact from the
// solver-facing material list: matching URL, matching host, or matching
// title all disqualify an entry. An emptied list is backfilled from
// references on other hosts.
func dropPrimaryFromProvidedMaterials(p *Payload) {
	if p.GroundTruth == nil {
		return
	}
	primaryURL := strings.TrimSpace(p.GroundTruth.Primary.URL)
	primaryTitle := strings.TrimSpace(p.GroundTruth.Primary.Title)
	if primaryURL == "" {
		return
	}
	primaryHost := hostOf(primaryURL)

	var kept []string
	for _, item := range p.InputsAndResources.ProvidedMaterials {
		drop := false
		for _, raw := range materialURLPattern.FindAllString(item, -1) {
			if strings.TrimSpace(raw) == primaryURL || (primaryHost != "" && hostOf(raw) == primaryHost) {
				drop = true
				break
			}
		}
		if !drop && primaryTitle != "" && strings.Contains(item, primaryTitle) {
			drop = true
		}
		if !drop {
			kept = append(kept, item)
		}
	}

	if len(kept) == 0 {
		for _, ref := range p.References {
			if len(kept) >= 3 {
				break
			}
			u := strings.TrimSpace(ref.URL)
			if u == "" || u == primaryURL || (primaryHost != "" && hostOf(u) == primaryHost) {
				continue
			}
			title := strings.TrimSpace(ref.Title)
			if title == "" {
				title = u
			}
			kept = append(kept, title+": "+u)
		}
	}
	p.InputsAndResources.ProvidedMaterials = kept
}

func hostOf(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// No word boundaries: the term may sit directly against CJK text.
var groundTruthTerm = regexp.MustCompile(`(?i)Ground\s*Truth`)

func scrubText(s string) string {
	return groundTruthTerm.ReplaceAllString(s, "参考资料")
}

func scrubList(items []string) []string {
	for i, item := range items {
		items[i] = scrubText(item)
	}
	return items
}

// scrubGroundTruthTerms rewrites the literal term out of every
// solver-facing field. The judge-only ground_truth block is untouched.
func scrubGroundTruthTerms(p *Payload) {
	p.Title = scrubText(p.Title)
	p.RoleAndBackground = scrubText(p.RoleAndBackground)
	p.ToolUsageExpectation = scrubText(p.ToolUsageExpectation)
	p.EstimatedHumanTime = scrubText(p.EstimatedHumanTime)
	p.Notes = scrubText(p.Notes)
	p.TaskObjectives = scrubList(p.TaskObjectives)
	p.GradingRubric = scrubList(p.GradingRubric)

	p.Deliverables.ExpectedOutputs = scrubList(p.Deliverables.ExpectedOutputs)
	p.Deliverables.FormatRequirements = scrubText(p.Deliverables.FormatRequirements)
	p.Deliverables.QualityBar = scrubText(p.Deliverables.QualityBar)

	p.InputsAndResources.ProvidedMaterials = scrubList(p.InputsAndResources.ProvidedMaterials)
	p.InputsAndResources.AllowedExternalResearch = scrubText(p.InputsAndResources.AllowedExternalResearch)
	p.InputsAndResources.GroundTruthUsage = scrubText(p.InputsAndResources.GroundTruthUsage)
	p.InputsAndResources.ReferenceUsage = scrubText(p.InputsAndResources.ReferenceUsage)

	if p.StandardAnswer != nil {
		p.StandardAnswer.Summary = scrubText(p.StandardAnswer.Summary)
		p.StandardAnswer.KeyPoints = scrubList(p.StandardAnswer.KeyPoints)
	}
	if p.EvaluationGuide != nil {
		p.EvaluationGuide.Summary = scrubText(p.EvaluationGuide.Summary)
		p.EvaluationGuide.Checkpoints = scrubList(p.EvaluationGuide.Checkpoints)
		p.EvaluationGuide.ScoringRubric = scrubList(p.EvaluationGuide.ScoringRubric)
	}
	if p.Context != nil {
		p.Context.Persona.Name = scrubText(p.Context.Persona.Name)
		p.Context.Persona.Description = scrubText(p.Context.Persona.Description)
		p.Context.UserStatement = scrubText(p.Context.UserStatement)
		p.Context.Constraints = scrubList(p.Context.Constraints)
		p.Context.AvailableAssets = scrubList(p.Context.AvailableAssets)
		p.Context.SuccessMetrics = scrubList(p.Context.SuccessMetrics)
	}
}

var internalKeywords = []string{"内部", "internal", "机密", "confidential"}

// ContextAllowsInternalAssets reports whether the task context explicitly
// grants internal materials, which disables the internal-scope rewrite.
func ContextAllowsInternalAssets(ctx *spec.ContextBundle) bool {
	if ctx == nil {
		return false
	}
	fields := make([]string, 0, 8)
	fields = append(fields, ctx.Constraints...)
	fields = append(fields, ctx.AvailableAssets...)
	fields = append(fields, ctx.SuccessMetrics...)
	fields = append(fields, ctx.UserStatement, ctx.Persona.Description)
	for _, text := range fields {
		for _, keyword := range internalKeywords {
			if strings.Contains(text, keyword) {
				return true
			}
		}
	}
	return false
}

var internalScopeRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(公司)?内部资料`), "提供的公开资料"},
	{regexp.MustCompile(`(公司)?内部数据`), "提供的公开数据"},
	{regexp.MustCompile(`(公司)?内部文档`), "提供的参考资料"},
	{regexp.MustCompile(`(公司)?内部报告`), "公开报告"},
	{regexp.MustCompile(`(公司)?内部系统`), "授权的公开系统"},
	{regexp.MustCompile(`内部流程文档`), "提供的流程资料"},
	{regexp.MustCompile(`内部流程`), "公开可验证流程"},
}

func sanitizeInternalText(s string) string {
	for _, rule := range internalScopeRules {
		s = rule.pattern.ReplaceAllString(s, rule.replacement)
	}
	return s
}

func sanitizeInternalList(items []string) []string {
	for i, item := range items {
		items[i] = sanitizeInternalText(item)
	}
	return items
}

// sanitizeInternalScope rewrites default assumptions about internal company
// materials into public equivalents, unless the context grants them, and
// pins the scope clause onto allowed_external_research.
func sanitizeInternalScope(p *Payload, ctx *spec.ContextBundle) {
	if ContextAllowsInternalAssets(ctx) {
		return
	}

	p.RoleAndBackground = sanitizeInternalText(p.RoleAndBackground)
	p.Notes = sanitizeInternalText(p.Notes)
	p.ToolUsageExpectation = sanitizeInternalText(p.ToolUsageExpectation)
	p.EstimatedHumanTime = sanitizeInternalText(p.EstimatedHumanTime)
	p.TaskObjectives = sanitizeInternalList(p.TaskObjectives)
	p.GradingRubric = sanitizeInternalList(p.GradingRubric)

	p.Deliverables.ExpectedOutputs = sanitizeInternalList(p.Deliverables.ExpectedOutputs)
	p.Deliverables.FormatRequirements = sanitizeInternalText(p.Deliverables.FormatRequirements)
	p.Deliverables.QualityBar = sanitizeInternalText(p.Deliverables.QualityBar)

	p.InputsAndResources.ProvidedMaterials = sanitizeInternalList(p.InputsAndResources.ProvidedMaterials)
	p.InputsAndResources.ReferenceUsage = sanitizeInternalText(p.InputsAndResources.ReferenceUsage)
	p.InputsAndResources.GroundTruthUsage = sanitizeInternalText(p.InputsAndResources.GroundTruthUsage)

	// The clause itself contains a pattern match, so it is stripped before
	// the rewrite and re-appended to keep the transform idempotent.
	research := strings.TrimSpace(strings.ReplaceAll(
		p.InputsAndResources.AllowedExternalResearch, internalScopeClause, ""))
	research = sanitizeInternalText(research)
	if research == "" {
		p.InputsAndResources.AllowedExternalResearch = internalScopeClause
	} else {
		separator := " "
		if strings.HasSuffix(research, "。") || strings.HasSuffix(research, ".") ||
			strings.HasSuffix(research, "；") || strings.HasSuffix(research, ";") {
			separator = ""
		}
		p.InputsAndResources.AllowedExternalResearch = research + separator + internalScopeClause
	}

	if p.StandardAnswer != nil {
		p.StandardAnswer.Summary = sanitizeInternalText(p.StandardAnswer.Summary)
		p.StandardAnswer.KeyPoints = sanitizeInternalList(p.StandardAnswer.KeyPoints)
	}
	if p.EvaluationGuide != nil {
		p.EvaluationGuide.Summary = sanitizeInternalText(p.EvaluationGuide.Summary)
		p.EvaluationGuide.Checkpoints = sanitizeInternalList(p.EvaluationGuide.Checkpoints)
		p.EvaluationGuide.ScoringRubric = sanitizeInternalList(p.EvaluationGuide.ScoringRubric)
	}
}

// Ordered longest-match-first: compound training terms get targeted
// rewrites before the generic one fires.
var l4ComplianceRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`分布式训练`), "分布式推理/验证"},
	{regexp.MustCompile(`训练/推理`), "推理/验证"},
	{regexp.MustCompile(`训练日志`), "推理/验证日志"},
	{regexp.MustCompile(`训练吞吐`), "推理吞吐"},
	{regexp.MustCompile(`训练\s*性能`), "推理/验证性能"},
	{regexp.MustCompile(`(?i)训练PPL`), "验证PPL"},
	{regexp.MustCompile(`训练\s*稳定性`), "验证稳定性"},
	{regexp.MustCompile(`训练`), "验证"},
	{regexp.MustCompile(`(?i)fine-?tune|微调`), "验证实验"},
	{regexp.MustCompile(`大规模`), "小规模可复核"},
	{regexp.MustCompile(`长时间`), "短时"},
}

func rewriteTrainingText(s string) string {
	for _, rule := range l4ComplianceRules {
		s = rule.pattern.ReplaceAllString(s, rule.replacement)
	}
	return s
}

func rewriteTrainingList(items []string) []string {
	for i, item := range items {
		items[i] = rewriteTrainingText(item)
	}
	return items
}

// enforceL4Compliance rewrites training-flavored objectives into
// validation/inference wording and installs resource guardrails. Only L4
// payloads are affected.
func enforceL4Compliance(p *Payload) {
	if !strings.EqualFold(p.Level, spec.LevelL4) {
		return
	}

	p.TaskObjectives = rewriteTrainingList(p.TaskObjectives)
	p.Deliverables.ExpectedOutputs = rewriteTrainingList(p.Deliverables.ExpectedOutputs)
	p.Deliverables.FormatRequirements = rewriteTrainingText(p.Deliverables.FormatRequirements)
	p.Deliverables.QualityBar = rewriteTrainingText(p.Deliverables.QualityBar)
	p.GradingRubric = rewriteTrainingList(p.GradingRubric)
	if p.EvaluationGuide != nil {
		p.EvaluationGuide.Checkpoints = rewriteTrainingList(p.EvaluationGuide.Checkpoints)
		p.EvaluationGuide.ScoringRubric = rewriteTrainingList(p.EvaluationGuide.ScoringRubric)
	}
	if p.StandardAnswer != nil {
		p.StandardAnswer.Summary = rewriteTrainingText(p.StandardAnswer.Summary)
		p.StandardAnswer.KeyPoints = rewriteTrainingList(p.StandardAnswer.KeyPoints)
	}

	p.ToolUsageExpectation = l4ToolUsage
	if !strings.Contains(p.Notes, l4NotesGuardrail) {
		p.Notes = strings.TrimSpace(strings.TrimSpace(p.Notes) + " " + l4NotesGuardrail)
	}
}
