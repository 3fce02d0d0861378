package rules

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"multireq/pkg/model"
	"multireq/pkg/traffic"

	"github.com/tidwall/gjson"
)

// Engine 请求规则引擎
type Engine struct {
	mu    sync.Mutex
	rs    model.RuleSet
	stats model.EngineStats
}

// New 创建规则引擎
func New(rs model.RuleSet) *Engine {
	return &Engine{rs: rs, stats: model.EngineStats{ByRule: make(map[model.RuleID]int64)}}
}

// Update 替换规则集合
func (e *Engine) Update(rs model.RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rs = rs
}

// Ctx 规则匹配上下文
type Ctx struct {
	URL     string
	Method  string
	Headers *traffic.Header
	Query   url.Values
	Body    string
}

// ContextOf 由请求构造匹配上下文
func ContextOf(req *traffic.Request) Ctx {
	ctx := Ctx{URL: req.URL, Method: req.Method, Headers: req.Header, Body: req.Body}
	if u, err := url.Parse(req.URL); err == nil {
		ctx.Query = u.Query()
	}
	return ctx
}

// Eval 返回优先级最高的命中规则，无命中时为 nil
//
// 命中 short_circuit 规则后停止求值，其后的规则不再参与比较。
func (e *Engine) Eval(ctx Ctx) *model.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	var chosen *model.Rule
	for i := range e.rs.Rules {
		r := &e.rs.Rules[i]
		if !matchRule(ctx, r.Match) {
			continue
		}
		if chosen == nil || r.Priority > chosen.Priority {
			chosen = r
		}
		if r.Mode == "short_circuit" {
			break
		}
	}
	if chosen == nil {
		return nil
	}
	e.stats.Matched++
	e.stats.ByRule[chosen.ID]++
	return chosen
}

// Apply 对请求求值并应用命中规则，返回命中的规则
func (e *Engine) Apply(req *traffic.Request) *model.Rule {
	r := e.Eval(ContextOf(req))
	if r == nil {
		return nil
	}
	if req.Header == nil && len(r.Apply.Headers) > 0 {
		req.Header = traffic.NewHeader()
	}
	for _, h := range r.Apply.Headers {
		req.Header.Set(h.Name, h.Value)
	}
	if r.Apply.Timeout > 0 {
		req.SetTimeout(r.Apply.Timeout)
	}
	if r.Apply.Auth != nil {
		req.SetBasicAuth(r.Apply.Auth.Username, r.Apply.Auth.Password)
	}
	return r
}

// Stats 返回命中统计快照
func (e *Engine) Stats() model.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := model.EngineStats{
		Total:   e.stats.Total,
		Matched: e.stats.Matched,
		ByRule:  make(map[model.RuleID]int64, len(e.stats.ByRule)),
	}
	for k, v := range e.stats.ByRule {
		out.ByRule[k] = v
	}
	return out
}

func matchRule(ctx Ctx, m model.Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && noneOf(ctx, m.NoneOf)
	}
	return ok
}

func allOf(ctx Ctx, cs []model.Condition) bool {
	for i := range cs {
		if !cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(ctx Ctx, cs []model.Condition) bool {
	for i := range cs {
		if cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func noneOf(ctx Ctx, cs []model.Condition) bool { return !anyOf(ctx, cs) }

func cond(ctx Ctx, c model.Condition) bool {
	switch c.Type {
	case "url":
		switch c.Mode {
		case "prefix":
			return strings.HasPrefix(ctx.URL, c.Pattern)
		case "regex":
			return matchRegex(ctx.URL, c.Pattern)
		case "exact":
			return ctx.URL == c.Pattern
		default:
			return glob(ctx.URL, c.Pattern)
		}
	case "method":
		for _, v := range c.Values {
			if strings.EqualFold(ctx.Method, v) {
				return true
			}
		}
		return false
	case "header":
		if !ctx.Headers.Has(c.Key) {
			return false
		}
		return compare(ctx.Headers.Get(c.Key), c)
	case "query":
		if _, ok := ctx.Query[c.Key]; !ok {
			return false
		}
		return compare(ctx.Query.Get(c.Key), c)
	case "text":
		if ctx.Body == "" {
			return false
		}
		return compare(ctx.Body, c)
	case "json":
		if ctx.Body == "" || !gjson.Valid(ctx.Body) {
			return false
		}
		v := gjson.Get(ctx.Body, c.Path)
		if !v.Exists() {
			return false
		}
		return compare(v.String(), c)
	default:
		return false
	}
}

func compare(v string, c model.Condition) bool {
	switch c.Op {
	case "equals":
		return v == c.Value
	case "contains":
		return strings.Contains(v, c.Value)
	case "regex":
		return matchRegex(v, c.Value)
	default:
		return true
	}
}

var regexCache sync.Map

func matchRegex(s, pattern string) bool {
	if cached, ok := regexCache.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re != nil && re.MatchString(s)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		regexCache.Store(pattern, (*regexp.Regexp)(nil))
		return false
	}
	regexCache.Store(pattern, re)
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}
