package pipeline

// 自适应检索控制器：把 (复杂度, 查询类型) 映射为检索参数。
// 纯参数推导，没有失败路径；分类缺失时退回 simple 行。

// 参数上限。追问调整不得越过。
const (
	maxTopK          = 10
	maxContextWindow = 4
)

// followUpBump 追问查询的上调幅度。
const followUpBump = 1

// paramRow 参数表的一行。
type paramRow struct {
	topK          int
	contextWindow int
}

// paramTable 确定性参数表。不变量：对每种查询类型，
// complex 行的 top_k 与 context_window 均不小于 simple 行。
var paramTable = map[Complexity]map[QueryType]paramRow{
	ComplexitySimple: {
		QueryTypeDefinition: {topK: 2, contextWindow: 1},
		QueryTypeGeneral:    {topK: 3, contextWindow: 1},
		QueryTypeProcedural: {topK: 3, contextWindow: 2},
		QueryTypeComparison: {topK: 4, contextWindow: 2},
	},
	ComplexityModerate: {
		QueryTypeDefinition: {topK: 3, contextWindow: 2},
		QueryTypeGeneral:    {topK: 4, contextWindow: 2},
		QueryTypeProcedural: {topK: 5, contextWindow: 3},
		QueryTypeComparison: {topK: 6, contextWindow: 3},
	},
	ComplexityComplex: {
		QueryTypeDefinition: {topK: 5, contextWindow: 3},
		QueryTypeGeneral:    {topK: 6, contextWindow: 3},
		QueryTypeProcedural: {topK: 7, contextWindow: 4},
		QueryTypeComparison: {topK: 8, contextWindow: 4},
	},
}

// DeriveParams 从分析结果推导检索参数。
func DeriveParams(analyzed *AnalyzedQuery) RetrievalParams {
	complexity := ComplexitySimple
	queryType := QueryTypeGeneral
	followUp := false

	if analyzed != nil {
		if analyzed.Complexity != "" {
			complexity = analyzed.Complexity
		}
		if analyzed.QueryType != "" {
			queryType = analyzed.QueryType
		}
		followUp = analyzed.FollowUp
	}

	rows, ok := paramTable[complexity]
	if !ok {
		rows = paramTable[ComplexitySimple]
	}
	row, ok := rows[queryType]
	if !ok {
		row = rows[QueryTypeGeneral]
	}

	params := RetrievalParams{
		TopK:          row.topK,
		ContextWindow: row.contextWindow,
	}

	// 追问小幅上调，受上限约束
	if followUp {
		params.TopK += followUpBump
		params.ContextWindow += followUpBump
	}
	if params.TopK > maxTopK {
		params.TopK = maxTopK
	}
	if params.ContextWindow > maxContextWindow {
		params.ContextWindow = maxContextWindow
	}

	// 多跳触发：显式比较措辞或复杂度为 complex
	params.NeedsMultiHop = complexity == ComplexityComplex || queryType == QueryTypeComparison

	return params
}
