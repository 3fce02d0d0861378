// Package engine 提供基于 net/http 的传输句柄与多传输引擎
//
// Transfer 对应一次逻辑 HTTP 交换，Multi 负责在同一个非阻塞驱动循环中推进多个 Transfer。
// 真正的网络 I/O 由引擎内部的 goroutine 完成，调用方只通过 Perform/Wait/ReadInfo 观察进度。
package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// HandleID 传输句柄的不透明标识
type HandleID uint64

// Option 传输选项名称
type Option int

const (
	OptURL Option = iota + 1
	OptCustomRequest
	OptPostFields
	OptTimeout
	OptUserPwd
	OptHTTPHeader
	OptHeader
	OptReturnTransfer
	OptFollowLocation
	OptMaxRedirs
	OptWriter
)

var optionNames = map[Option]string{
	OptURL:            "URL",
	OptCustomRequest:  "CUSTOMREQUEST",
	OptPostFields:     "POSTFIELDS",
	OptTimeout:        "TIMEOUT",
	OptUserPwd:        "USERPWD",
	OptHTTPHeader:     "HTTPHEADER",
	OptHeader:         "HEADER",
	OptReturnTransfer: "RETURNTRANSFER",
	OptFollowLocation: "FOLLOWLOCATION",
	OptMaxRedirs:      "MAXREDIRS",
	OptWriter:         "WRITER",
}

func (o Option) String() string {
	if s, ok := optionNames[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// InfoCode 传输完成后的内省项
type InfoCode int

const (
	InfoHeaderSize InfoCode = iota + 1
	InfoHTTPCode
	InfoEffectiveURL
	InfoRedirectCount
	InfoTotalTime
	InfoContentType
	InfoSizeDownload
)

var (
	lastHandleID  atomic.Uint64
	openTransfers atomic.Int64
)

// OpenTransfers 返回尚未释放的传输句柄数量
func OpenTransfers() int64 {
	return openTransfers.Load()
}

// Transfer 单个传输句柄，同一时刻只属于一个请求
type Transfer struct {
	id HandleID

	mu     sync.Mutex
	opts   map[Option]any
	closed bool

	code    ErrorCode
	message string
	content []byte
	info    map[InfoCode]any
}

// NewTransfer 分配一个新的传输句柄，使用完毕后必须 Close
func NewTransfer() *Transfer {
	openTransfers.Add(1)
	return &Transfer{
		id:   HandleID(lastHandleID.Add(1)),
		opts: make(map[Option]any),
		info: make(map[InfoCode]any),
	}
}

// ID 返回句柄标识
func (t *Transfer) ID() HandleID {
	return t.id
}

// SetOption 设置一个传输选项，支持链式调用
func (t *Transfer) SetOption(o Option, value any) *Transfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.opts[o] = value
	}
	return t
}

// Option 读取已设置的选项
func (t *Transfer) Option(o Option) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.opts[o]
	return v, ok
}

// Options 返回所有已设置选项的副本
func (t *Transfer) Options() map[Option]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Option]any, len(t.opts))
	for k, v := range t.opts {
		out[k] = v
	}
	return out
}

// Execute 阻塞执行一次传输并返回捕获的输出
func (t *Transfer) Execute(ctx context.Context) ([]byte, error) {
	s, err := t.settings()
	if err != nil {
		return nil, err
	}
	res := perform(ctx, s, sharedTransport)
	t.finish(res)
	if res.code != CodeOK {
		return res.content, &Error{Code: res.code, Message: res.message}
	}
	return res.content, nil
}

// Info 返回单个内省值，不存在时为 nil
func (t *Transfer) Info(code InfoCode) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info[code]
}

// InfoInt 以整数形式返回内省值
func (t *Transfer) InfoInt(code InfoCode) int {
	switch v := t.Info(code).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// InfoAll 返回全部内省值
func (t *Transfer) InfoAll() map[InfoCode]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[InfoCode]any, len(t.info))
	for k, v := range t.info {
		out[k] = v
	}
	return out
}

// ErrorCode 返回最近一次传输的结果码
func (t *Transfer) ErrorCode() ErrorCode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code
}

// ErrorMessage 返回最近一次传输的错误信息，成功时为空
func (t *Transfer) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// Content 返回最近一次传输保留的原始输出
func (t *Transfer) Content() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.content
}

// Closed 句柄是否已释放
func (t *Transfer) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close 释放句柄，重复调用无副作用
func (t *Transfer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.opts = nil
	t.content = nil
	openTransfers.Add(-1)
	return nil
}

func (t *Transfer) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.code = CodeOK
	t.message = ""
	t.content = nil
	t.info = make(map[InfoCode]any)
}

func (t *Transfer) finish(res result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.code = res.code
	t.message = res.message
	t.content = res.content
	t.info = res.info
}
