package pipeline

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/types"
)

// AnalyzerConfig 配置查询分析器。
type AnalyzerConfig struct {
	// TechnicalTerms 领域技术词表
	TechnicalTerms []string `json:"technical_terms"`
	// AmbiguousTerms 多义词 → 可消歧限定词列表
	AmbiguousTerms map[string][]string `json:"ambiguous_terms"`
	// MinWordsForPronoun 裸代词需要的最少上下文词数
	MinWordsForPronoun int `json:"min_words_for_pronoun"`
}

// DefaultAnalyzerConfig 返回默认分析器配置。
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		TechnicalTerms: []string{
			"system database", "point-to-point", "multi-tier", "firmware",
			"protocol", "baud", "subnet", "vlan", "dante", "dsp", "amplifier",
			"matrix", "codec", "api", "endpoint", "touchpanel", "processor",
		},
		AmbiguousTerms: map[string][]string{
			"port":    {"serial", "network", "ethernet", "usb", "audio", "video"},
			"driver":  {"device", "software", "module"},
			"zone":    {"audio", "video", "lighting", "hvac"},
			"program": {"control", "source", "software"},
		},
		MinWordsForPronoun: 8,
	}
}

// Analyzer 查询分析器：识别问候语、分类复杂度、检测歧义。
type Analyzer struct {
	cfg    AnalyzerConfig
	logger *zap.Logger
}

// NewAnalyzer 创建查询分析器。
func NewAnalyzer(cfg AnalyzerConfig, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "query_analyzer")),
	}
}

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening)|thanks|thank you|你好|您好)\b[\s!,.?]*$`)

	comparisonCues = []string{"compare", "versus", " vs ", " vs.", "difference between", "better than", "which to use", "which one"}
	definitionCues = []string{"what is", "what are", "define", "definition of", "meaning of"}
	proceduralCues = []string{"how to", "how do i", "how can i", "steps to", "configure", "install", "set up", "setup"}

	barePronounPattern = regexp.MustCompile(`(?i)\b(it|this|that|they|these|those)\b`)
	interrogativeWords = []string{"what", "how", "why", "when", "where", "which", "who", "does", "is", "are", "can", "should", "list", "show", "explain", "describe", "compare", "tell"}
)

// Analyze 分析查询。高严重度歧义返回澄清请求（终态），分析结果为 nil。
// hasHistory 表示会话中已有先前轮次，可为裸代词提供指代来源。
func (a *Analyzer) Analyze(req Request, hasHistory bool) (*AnalyzedQuery, *types.Clarification) {
	text := strings.TrimSpace(req.Question)
	lower := strings.ToLower(text)
	words := strings.Fields(lower)

	analyzed := &AnalyzedQuery{
		Raw:       text,
		Enriched:  text,
		Scope:     req.Scope,
		Intent:    IntentTechnical,
		WordCount: len(words),
		FollowUp:  hasHistory,
	}

	// 问候语短路：不触发检索
	if greetingPattern.MatchString(text) {
		analyzed.Intent = IntentGreeting
		return analyzed, nil
	}

	analyzed.TechnicalTerm = a.hasTechnicalTerm(lower)
	analyzed.Topics = a.matchTopics(lower)
	analyzed.QueryType = classifyQueryType(lower)
	analyzed.Complexity = classifyComplexity(lower, len(words), analyzed.QueryType)

	// 歧义检测
	issues := a.detectAmbiguity(lower, words, hasHistory)
	analyzed.Issues = issues

	if hasHighSeverity(issues) {
		clarification := &types.Clarification{
			Kind:        types.ClarifyAmbiguousQuery,
			Issues:      issues,
			Suggestions: a.suggestions(issues),
		}
		a.logger.Info("query requires clarification",
			zap.String("query", text),
			zap.Int("issues", len(issues)))
		return nil, clarification
	}

	a.logger.Debug("query analyzed",
		zap.String("complexity", string(analyzed.Complexity)),
		zap.String("query_type", string(analyzed.QueryType)),
		zap.Bool("technical_term", analyzed.TechnicalTerm))

	return analyzed, nil
}

// hasTechnicalTerm 检查是否包含领域技术词。
func (a *Analyzer) hasTechnicalTerm(lower string) bool {
	for _, term := range a.cfg.TechnicalTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// matchTopics 提取查询命中的主题词，用于检索侧的渐进加权。
func (a *Analyzer) matchTopics(lower string) []string {
	var topics []string
	for _, term := range a.cfg.TechnicalTerms {
		if strings.Contains(lower, term) {
			topics = append(topics, term)
		}
	}
	return topics
}

// classifyQueryType 识别查询类型。比较优先于定义（"what is X vs Y" 按比较处理）。
func classifyQueryType(lower string) QueryType {
	for _, cue := range comparisonCues {
		if strings.Contains(lower, cue) {
			return QueryTypeComparison
		}
	}
	for _, cue := range proceduralCues {
		if strings.Contains(lower, cue) {
			return QueryTypeProcedural
		}
	}
	for _, cue := range definitionCues {
		if strings.Contains(lower, cue) {
			return QueryTypeDefinition
		}
	}
	return QueryTypeGeneral
}

// classifyComplexity 基于词数、比较线索与多部件连接词分类复杂度。
func classifyComplexity(lower string, wordCount int, queryType QueryType) Complexity {
	multiPart := strings.Contains(lower, " and ") ||
		strings.Contains(lower, " as well as ") ||
		strings.Contains(lower, " also ")

	switch {
	case queryType == QueryTypeComparison:
		return ComplexityComplex
	case wordCount > 20 || (multiPart && wordCount > 12):
		return ComplexityComplex
	case wordCount > 10 || multiPart || queryType == QueryTypeProcedural:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// detectAmbiguity 检测三类歧义：
// (1) 缺乏上下文的裸代词；(2) 无限定词的多义领域词；(3) 缺少可执行的疑问词。
func (a *Analyzer) detectAmbiguity(lower string, words []string, hasHistory bool) []types.ClarificationIssue {
	var issues []types.ClarificationIssue

	// 裸代词：无会话历史且查询过短时无法消解指代
	if barePronounPattern.MatchString(lower) && !hasHistory && len(words) < a.cfg.MinWordsForPronoun {
		issues = append(issues, types.ClarificationIssue{
			Kind:     "vague_pronoun",
			Severity: "high",
			Detail:   "the query refers to \"it\" or \"this\" without enough context to resolve the reference",
		})
	}

	// 多义领域词：出现但没有任何消歧限定词
	for term, qualifiers := range a.cfg.AmbiguousTerms {
		if !containsWord(words, term) {
			continue
		}
		qualified := false
		for _, q := range qualifiers {
			if strings.Contains(lower, q) {
				qualified = true
				break
			}
		}
		if !qualified {
			issues = append(issues, types.ClarificationIssue{
				Kind:     "ambiguous_term",
				Severity: "high",
				Detail:   "\"" + term + "\" has multiple meanings here; add a qualifier such as: " + strings.Join(qualifiers, ", "),
			})
		}
	}

	// 缺少疑问词/动词：无法判断要做什么
	if !hasInterrogative(words) {
		issues = append(issues, types.ClarificationIssue{
			Kind:     "no_actionable_question",
			Severity: "low",
			Detail:   "the query does not contain a question word or actionable verb",
		})
	}

	return issues
}

// suggestions 为每类歧义生成示例改写。
func (a *Analyzer) suggestions(issues []types.ClarificationIssue) []string {
	var out []string
	for _, issue := range issues {
		switch issue.Kind {
		case "vague_pronoun":
			out = append(out, "Name the specific system or component, e.g. \"How does the System Database resolve device addresses?\"")
		case "ambiguous_term":
			out = append(out, "Add a qualifier, e.g. \"serial port\" instead of \"port\"")
		case "no_actionable_question":
			out = append(out, "Phrase as a question, e.g. \"What is ...\" or \"How do I ...\"")
		}
	}
	return out
}

// hasHighSeverity 是否存在高严重度问题。
func hasHighSeverity(issues []types.ClarificationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "high" {
			return true
		}
	}
	return false
}

// containsWord 判断词列表是否包含目标词（多词短语退化为子串匹配）。
func containsWord(words []string, target string) bool {
	if strings.Contains(target, " ") {
		return strings.Contains(strings.Join(words, " "), target)
	}
	for _, w := range words {
		if strings.Trim(w, ".,!?") == target {
			return true
		}
	}
	return false
}

// hasInterrogative 判断是否包含疑问词或可执行动词。
func hasInterrogative(words []string) bool {
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		for _, iw := range interrogativeWords {
			if w == iw {
				return true
			}
		}
	}
	return false
}
