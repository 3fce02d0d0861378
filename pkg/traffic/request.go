package traffic

import (
	"net/url"

	"multireq/pkg/engine"

	"github.com/google/uuid"
)

// Callback 请求生命周期回调
type Callback func(req *Request)

// Request 一个逻辑请求及其配置
//
// 通常由 NewRequest 创建；零值也可使用，传输句柄与响应在首次访问时分配。
type Request struct {
	ID                string   // 请求唯一ID
	Method            string   // HTTP方法，默认 GET
	URL               string   // 完整URL
	Body              string   // 请求体
	Header            *Header  // 请求头
	Timeout           int      // 超时秒数，0 表示不限
	BasicAuthUsername string   // 基础认证用户名
	BasicAuthPassword string   // 基础认证密码
	OnInitialize      Callback // 传输配置完成、加入引擎前调用
	OnComplete        Callback // 传输完成、响应解析后调用

	transfer *engine.Transfer
	response *Response
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{
		ID:       uuid.NewString(),
		Method:   MethodGet,
		Header:   NewHeader(),
		transfer: engine.NewTransfer(),
		response: NewResponse(),
	}
}

// Transfer 返回请求持有的传输句柄
func (r *Request) Transfer() *engine.Transfer {
	if r.transfer == nil {
		r.transfer = engine.NewTransfer()
	}
	return r.transfer
}

// Response 返回请求持有的响应
func (r *Request) Response() *Response {
	if r.response == nil {
		r.response = NewResponse()
	}
	return r.response
}

// SetMethod 设置请求方法
func (r *Request) SetMethod(method string) *Request {
	r.Method = method
	return r
}

// SetURL 设置请求地址
func (r *Request) SetURL(u string) *Request {
	r.URL = u
	return r
}

// SetBody 设置请求体
func (r *Request) SetBody(body string) *Request {
	r.Body = body
	return r
}

// SetFormData 以表单编码设置请求体
func (r *Request) SetFormData(values url.Values) *Request {
	r.Body = values.Encode()
	return r
}

// SetTimeout 设置超时秒数
func (r *Request) SetTimeout(seconds int) *Request {
	r.Timeout = seconds
	return r
}

// SetBasicAuth 设置基础认证
func (r *Request) SetBasicAuth(username, password string) *Request {
	r.BasicAuthUsername = username
	r.BasicAuthPassword = password
	return r
}

// Clone 复制请求，头部与响应深拷贝，传输句柄重新分配
func (r *Request) Clone() *Request {
	out := *r
	out.ID = uuid.NewString()
	out.Header = r.Header.Clone()
	out.transfer = engine.NewTransfer()
	out.response = r.Response().Clone()
	return &out
}

// Close 释放传输句柄
func (r *Request) Close() error {
	if r.transfer == nil {
		return nil
	}
	return r.transfer.Close()
}
