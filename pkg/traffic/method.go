package traffic

// 常用请求方法，其他任意方法名同样可以直接写入 Request.Method
const (
	MethodConnect = "CONNECT"
	MethodDelete  = "DELETE"
	MethodHead    = "HEAD"
	MethodGet     = "GET"
	MethodOptions = "OPTIONS"
	MethodPatch   = "PATCH"
	MethodPost    = "POST"
	MethodPut     = "PUT"
)
