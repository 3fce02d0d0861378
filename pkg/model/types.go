package model

// RunID 一次批量执行的标识
type RunID string

// BasicAuth 基础认证凭据
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HeaderEntry 保持文件顺序的请求头条目
type HeaderEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RequestSpec 批量文件中的单个请求
type RequestSpec struct {
	Name    string        `json:"name"`
	Method  string        `json:"method"`
	URL     string        `json:"url"`
	Body    string        `json:"body"`
	Headers []HeaderEntry `json:"headers"`
	Timeout int           `json:"timeout"`
	Auth    *BasicAuth    `json:"auth"`
}

// Batch 批量执行配置
type Batch struct {
	Parallel int           `json:"parallel"` // 0 表示沿用调度器配置
	Timeout  int           `json:"timeout"`  // 请求未设置超时时的默认值
	Requests []RequestSpec `json:"requests"`
	Rules    RuleSet       `json:"rules"`
}

// RequestResult 单个请求的执行结果
type RequestResult struct {
	Name         string  `json:"name"`
	RequestID    string  `json:"requestID"`
	Completed    bool    `json:"completed"`
	Method       string  `json:"method"`
	URL          string  `json:"url"`
	StatusCode   int     `json:"statusCode"`
	ErrorCode    int     `json:"errorCode"`
	ErrorMessage string  `json:"errorMessage"`
	Hops         int     `json:"hops"`
	BodySize     int     `json:"bodySize"`
	TotalTimeMS  float64 `json:"totalTimeMS"`
	Rule         string  `json:"rule,omitempty"`
}

// RunSummary 一次批量执行的汇总
type RunSummary struct {
	RunID     RunID           `json:"runID"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	ElapsedMS float64         `json:"elapsedMS"`
	Results   []RequestResult `json:"results"`
}

// RuleID 规则标识
type RuleID string

// Condition 单个匹配条件
//
// Type 取值 url/method/header/query/text/json；url 的 Mode 取值 prefix/regex/exact/glob，
// 其余类型的 Op 取值 equals/contains/regex/exists。json 条件的 Path 为 gjson 路径。
type Condition struct {
	Type    string   `json:"type"`
	Mode    string   `json:"mode"`
	Pattern string   `json:"pattern"`
	Values  []string `json:"values"`
	Key     string   `json:"key"`
	Op      string   `json:"op"`
	Value   string   `json:"value"`
	Path    string   `json:"path"`
}

// Match 条件组合
type Match struct {
	AllOf  []Condition `json:"allOf"`
	AnyOf  []Condition `json:"anyOf"`
	NoneOf []Condition `json:"noneOf"`
}

// Apply 命中规则后对请求的修改
type Apply struct {
	Headers []HeaderEntry `json:"headers"`
	Timeout int           `json:"timeout"`
	Auth    *BasicAuth    `json:"auth"`
}

// Rule 请求规则
type Rule struct {
	ID       RuleID `json:"id"`
	Priority int    `json:"priority"`
	Mode     string `json:"mode"` // short_circuit 时命中即停止
	Match    Match  `json:"match"`
	Apply    Apply  `json:"apply"`
}

// RuleSet 规则集合
type RuleSet struct {
	Rules []Rule `json:"rules"`
}

// EngineStats 规则命中统计
type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}
