package rules

import (
	"testing"

	"multireq/pkg/model"
	"multireq/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReq(t *testing.T, method, url, body string) *traffic.Request {
	t.Helper()
	req := traffic.NewRequest().SetMethod(method).SetURL(url).SetBody(body)
	t.Cleanup(func() { _ = req.Close() })
	return req
}

func TestCondition(t *testing.T) {
	req := newReq(t, traffic.MethodPost, "https://api.example.com/v1/users?page=2", `{"user":{"role":"admin"}}`)
	req.Header.Set("X-Env", "staging-eu")
	ctx := ContextOf(req)

	tests := []struct {
		name string
		c    model.Condition
		want bool
	}{
		{"url prefix", model.Condition{Type: "url", Mode: "prefix", Pattern: "https://api.example.com/"}, true},
		{"url exact miss", model.Condition{Type: "url", Mode: "exact", Pattern: "https://api.example.com/"}, false},
		{"url regex", model.Condition{Type: "url", Mode: "regex", Pattern: `/v\d+/users`}, true},
		{"url bad regex", model.Condition{Type: "url", Mode: "regex", Pattern: `(`}, false},
		{"url glob suffix", model.Condition{Type: "url", Pattern: "*page=2"}, true},
		{"url glob any", model.Condition{Type: "url", Mode: "glob", Pattern: "*"}, true},
		{"method", model.Condition{Type: "method", Values: []string{"get", "post"}}, true},
		{"method miss", model.Condition{Type: "method", Values: []string{"GET"}}, false},
		{"header contains", model.Condition{Type: "header", Key: "X-Env", Op: "contains", Value: "staging"}, true},
		{"header exists", model.Condition{Type: "header", Key: "X-Env", Op: "exists"}, true},
		{"header missing", model.Condition{Type: "header", Key: "X-Other", Op: "exists"}, false},
		{"query equals", model.Condition{Type: "query", Key: "page", Op: "equals", Value: "2"}, true},
		{"text regex", model.Condition{Type: "text", Op: "regex", Value: `"role"`}, true},
		{"json path", model.Condition{Type: "json", Path: "user.role", Op: "equals", Value: "admin"}, true},
		{"json path missing", model.Condition{Type: "json", Path: "user.name", Op: "exists"}, false},
		{"unknown type", model.Condition{Type: "cookie"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cond(ctx, tt.c))
		})
	}
}

func TestEngine_ApplyHighestPriority(t *testing.T) {
	rs := model.RuleSet{Rules: []model.Rule{
		{
			ID:       "low",
			Priority: 1,
			Match:    model.Match{AllOf: []model.Condition{{Type: "url", Mode: "prefix", Pattern: "http://a.test"}}},
			Apply:    model.Apply{Timeout: 1},
		},
		{
			ID:       "high",
			Priority: 5,
			Match: model.Match{
				AllOf:  []model.Condition{{Type: "url", Mode: "prefix", Pattern: "http://a.test"}},
				NoneOf: []model.Condition{{Type: "method", Values: []string{"DELETE"}}},
			},
			Apply: model.Apply{
				Timeout: 9,
				Headers: []model.HeaderEntry{{Name: "X-Rule", Value: "high"}},
				Auth:    &model.BasicAuth{Username: "u", Password: "p"},
			},
		},
	}}
	e := New(rs)

	req := newReq(t, traffic.MethodGet, "http://a.test/x", "")
	rule := e.Apply(req)
	require.NotNil(t, rule)
	assert.Equal(t, model.RuleID("high"), rule.ID)
	assert.Equal(t, 9, req.Timeout)
	assert.Equal(t, "high", req.Header.Get("X-Rule"))
	assert.Equal(t, "u", req.BasicAuthUsername)

	del := newReq(t, traffic.MethodDelete, "http://a.test/x", "")
	rule = e.Apply(del)
	require.NotNil(t, rule)
	assert.Equal(t, model.RuleID("low"), rule.ID)
	assert.Equal(t, 1, del.Timeout)

	miss := newReq(t, traffic.MethodGet, "http://b.test/", "")
	assert.Nil(t, e.Apply(miss))
	assert.Equal(t, 0, miss.Timeout)

	stats := e.Stats()
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Matched)
	assert.Equal(t, int64(1), stats.ByRule["high"])
	assert.Equal(t, int64(1), stats.ByRule["low"])
}

func TestEngine_ShortCircuit(t *testing.T) {
	matchAll := model.Match{AnyOf: []model.Condition{{Type: "url", Pattern: "*"}}}
	e := New(model.RuleSet{Rules: []model.Rule{
		{ID: "first", Priority: 1, Mode: "short_circuit", Match: matchAll},
		{ID: "second", Priority: 10, Match: matchAll},
	}})
	rule := e.Eval(Ctx{URL: "http://x.test"})
	require.NotNil(t, rule)
	assert.Equal(t, model.RuleID("first"), rule.ID)

	e.Update(model.RuleSet{Rules: []model.Rule{
		{ID: "a", Priority: 10, Match: matchAll},
		{ID: "b", Priority: 5, Mode: "short_circuit", Match: matchAll},
		{ID: "c", Priority: 20, Match: matchAll},
	}})
	rule = e.Eval(Ctx{URL: "http://x.test"})
	require.NotNil(t, rule)
	assert.Equal(t, model.RuleID("a"), rule.ID)

	e.Update(model.RuleSet{Rules: []model.Rule{
		{ID: "a", Priority: 1, Match: matchAll},
		{ID: "b", Priority: 5, Mode: "short_circuit", Match: matchAll},
		{ID: "c", Priority: 20, Match: matchAll},
	}})
	rule = e.Eval(Ctx{URL: "http://x.test"})
	require.NotNil(t, rule)
	assert.Equal(t, model.RuleID("b"), rule.ID)

	e.Update(model.RuleSet{})
	assert.Nil(t, e.Eval(Ctx{URL: "http://x.test"}))
}

func TestEngine_ApplyZeroValueRequest(t *testing.T) {
	e := New(model.RuleSet{Rules: []model.Rule{{
		ID:    "h",
		Match: model.Match{AllOf: []model.Condition{{Type: "url", Pattern: "*"}}},
		Apply: model.Apply{Headers: []model.HeaderEntry{{Name: "X-A", Value: "1"}}},
	}}})
	req := &traffic.Request{URL: "http://x.test"}
	defer req.Close()

	require.NotNil(t, e.Apply(req))
	assert.Equal(t, "1", req.Header.Get("X-A"))
}
