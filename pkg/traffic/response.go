package traffic

import "multireq/pkg/engine"

// Response 请求的响应，由所属 Request 独占
type Response struct {
	ErrorCode    engine.ErrorCode // 传输结果码，0 表示成功
	ErrorMessage string           // 传输错误信息
	StatusCode   int              // HTTP 状态码
	Headers      []*Header        // 每一跳一个头部，按出现顺序排列
	Content      string           // 响应体
}

// NewResponse 创建空响应
func NewResponse() *Response {
	return &Response{}
}

// AddHeader 追加一跳的头部
func (r *Response) AddHeader(h *Header) *Response {
	r.Headers = append(r.Headers, h)
	return r
}

// LastHeader 返回最先加入的头部，没有头部时为 nil
//
// 重定向链中这是第一跳而非最终响应的头部，最终响应请使用 FinalHeader。
func (r *Response) LastHeader() *Header {
	if len(r.Headers) == 0 {
		return nil
	}
	return r.Headers[0]
}

// FinalHeader 返回最终响应（最后一跳）的头部，没有头部时为 nil
func (r *Response) FinalHeader() *Header {
	if len(r.Headers) == 0 {
		return nil
	}
	return r.Headers[len(r.Headers)-1]
}

// Succeeded 传输是否成功完成
func (r *Response) Succeeded() bool {
	return r.ErrorCode == engine.CodeOK
}

// Clone 深拷贝
func (r *Response) Clone() *Response {
	out := *r
	out.Headers = nil
	for _, h := range r.Headers {
		out.Headers = append(out.Headers, h.Clone())
	}
	return &out
}
