package batch

import (
	"strings"

	"multireq/pkg/model"
	"multireq/pkg/traffic"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Decode 解析批量文件
//
// headers 既可以是对象（按文件顺序），也可以是 "name: value" 字符串或 {name,value} 对象的数组。
func Decode(data []byte) (*model.Batch, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("batch file is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	reqs := root.Get("requests")
	if !reqs.IsArray() {
		return nil, errors.New("batch file has no requests array")
	}

	b := &model.Batch{
		Parallel: int(root.Get("parallel").Int()),
		Timeout:  int(root.Get("timeout").Int()),
	}
	var decodeErr error
	reqs.ForEach(func(idx, item gjson.Result) bool {
		spec, err := decodeRequest(item)
		if err != nil {
			decodeErr = errors.Wrapf(err, "request %d", idx.Int())
			return false
		}
		b.Requests = append(b.Requests, spec)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}

	rules := root.Get("rules")
	if rules.Exists() && !rules.IsArray() {
		return nil, errors.New("batch rules must be an array")
	}
	rules.ForEach(func(idx, item gjson.Result) bool {
		rule, err := decodeRule(item)
		if err != nil {
			decodeErr = errors.Wrapf(err, "rule %d", idx.Int())
			return false
		}
		b.Rules.Rules = append(b.Rules.Rules, rule)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return b, nil
}

func decodeRule(item gjson.Result) (model.Rule, error) {
	r := model.Rule{
		ID:       model.RuleID(item.Get("id").String()),
		Priority: int(item.Get("priority").Int()),
		Mode:     item.Get("mode").String(),
		Match: model.Match{
			AllOf:  decodeConditions(item.Get("match.allOf")),
			AnyOf:  decodeConditions(item.Get("match.anyOf")),
			NoneOf: decodeConditions(item.Get("match.noneOf")),
		},
	}
	if r.ID == "" {
		return r, errors.New("missing id")
	}
	apply := item.Get("apply")
	r.Apply.Timeout = int(apply.Get("timeout").Int())
	apply.Get("headers").ForEach(func(k, v gjson.Result) bool {
		r.Apply.Headers = append(r.Apply.Headers, model.HeaderEntry{Name: k.String(), Value: v.String()})
		return true
	})
	if auth := apply.Get("auth"); auth.Exists() {
		r.Apply.Auth = &model.BasicAuth{
			Username: auth.Get("username").String(),
			Password: auth.Get("password").String(),
		}
	}
	return r, nil
}

func decodeConditions(list gjson.Result) []model.Condition {
	var out []model.Condition
	for _, c := range list.Array() {
		cond := model.Condition{
			Type:    c.Get("type").String(),
			Mode:    c.Get("mode").String(),
			Pattern: c.Get("pattern").String(),
			Key:     c.Get("key").String(),
			Op:      c.Get("op").String(),
			Value:   c.Get("value").String(),
			Path:    c.Get("path").String(),
		}
		for _, v := range c.Get("values").Array() {
			cond.Values = append(cond.Values, v.String())
		}
		out = append(out, cond)
	}
	return out
}

func decodeRequest(item gjson.Result) (model.RequestSpec, error) {
	spec := model.RequestSpec{
		Name:    item.Get("name").String(),
		Method:  strings.ToUpper(item.Get("method").String()),
		URL:     item.Get("url").String(),
		Body:    item.Get("body").String(),
		Timeout: int(item.Get("timeout").Int()),
	}
	if spec.URL == "" {
		return spec, errors.New("missing url")
	}
	if auth := item.Get("auth"); auth.Exists() {
		spec.Auth = &model.BasicAuth{
			Username: auth.Get("username").String(),
			Password: auth.Get("password").String(),
		}
	}

	headers := item.Get("headers")
	switch {
	case headers.IsObject():
		headers.ForEach(func(k, v gjson.Result) bool {
			spec.Headers = append(spec.Headers, model.HeaderEntry{Name: k.String(), Value: v.String()})
			return true
		})
	case headers.IsArray():
		for _, h := range headers.Array() {
			if h.IsObject() {
				spec.Headers = append(spec.Headers, model.HeaderEntry{
					Name:  h.Get("name").String(),
					Value: h.Get("value").String(),
				})
				continue
			}
			name, value, ok := strings.Cut(h.String(), ":")
			if !ok {
				return spec, errors.Errorf("malformed header line %q", h.String())
			}
			spec.Headers = append(spec.Headers, model.HeaderEntry{
				Name:  strings.TrimSpace(name),
				Value: strings.TrimSpace(value),
			})
		}
	}
	return spec, nil
}

// ToRequest 将请求描述转换为 traffic.Request，defaultTimeout 仅在描述未设置超时时生效
func ToRequest(spec model.RequestSpec, defaultTimeout int) *traffic.Request {
	req := traffic.NewRequest().
		SetURL(spec.URL).
		SetBody(spec.Body).
		SetTimeout(spec.Timeout)
	if spec.Method != "" {
		req.SetMethod(spec.Method)
	}
	if req.Timeout == 0 {
		req.SetTimeout(defaultTimeout)
	}
	for _, h := range spec.Headers {
		req.Header.Set(h.Name, h.Value)
	}
	if spec.Auth != nil {
		req.SetBasicAuth(spec.Auth.Username, spec.Auth.Password)
	}
	return req
}

// EncodeSummary 将执行汇总编码为 JSON
func EncodeSummary(s *model.RunSummary) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		out, err = sjson.SetBytes(out, path, value)
	}

	set("runID", string(s.RunID))
	set("total", s.Total)
	set("succeeded", s.Succeeded)
	set("failed", s.Failed)
	set("elapsedMS", s.ElapsedMS)
	set("results", []any{})
	for _, r := range s.Results {
		set("results.-1", r)
	}
	if err != nil {
		return nil, errors.Wrap(err, "encode summary")
	}
	return out, nil
}
