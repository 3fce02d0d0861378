// Package manager 在一个有界的并发传输池上调度大量 HTTP 请求
//
// Manager 本身是单线程协作式的：所有状态只在调用方的调用栈上修改，
// 唯一的挂起点是 Engine.Wait。
package manager

import (
	"context"
	"strings"
	"sync"
	"time"

	"multireq/internal/logger"
	"multireq/pkg/engine"
	"multireq/pkg/traffic"
)

// Engine 多传输引擎需要提供的能力
type Engine interface {
	Add(t *engine.Transfer) engine.MultiCode
	Remove(t *engine.Transfer) engine.MultiCode
	Content(t *engine.Transfer) []byte
	Perform() engine.MultiCode
	ReadInfo() (engine.Message, bool)
	Wait(timeout time.Duration) int
	StillRunning() int
	LastCode() engine.MultiCode
	Close() error
}

// Recorder 请求完成后的记录钩子
type Recorder interface {
	Record(ctx context.Context, req *traffic.Request) error
}

// Config 配置选项
type Config struct {
	Engine        Engine // 为空时创建默认 engine.Multi
	ParallelLimit int    // 并发传输上限，0 表示不限
	Logger        logger.Logger
	Recorder      Recorder
}

// Manager 请求调度器
type Manager struct {
	multi    Engine
	limit    int
	waiting  []*traffic.Request
	running  map[engine.HandleID]*traffic.Request
	log      logger.Logger
	recorder Recorder

	closeOnce sync.Once
	closeErr  error
}

// New 创建调度器，使用完毕后必须 Close
func New(cfg Config) *Manager {
	multi := cfg.Engine
	if multi == nil {
		multi = engine.NewMulti(engine.MultiConfig{})
	}
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	m := &Manager{
		multi:    multi,
		running:  make(map[engine.HandleID]*traffic.Request),
		log:      l,
		recorder: cfg.Recorder,
	}
	m.SetParallelLimit(cfg.ParallelLimit)
	return m
}

// SetParallelLimit 设置并发传输上限，0 表示不限
func (m *Manager) SetParallelLimit(n int) *Manager {
	if n < 0 {
		n = 0
	}
	m.limit = n
	return m
}

// ParallelLimit 返回当前并发上限
func (m *Manager) ParallelLimit() int {
	return m.limit
}

// AddRequest 将请求加入等待队列并尝试立即执行
func (m *Manager) AddRequest(req *traffic.Request) *Manager {
	m.waiting = append(m.waiting, req)
	m.log.Debug("请求入队", "requestID", req.ID, "url", req.URL, "waiting", len(m.waiting))
	m.executeNextWaitingRequest()
	return m
}

// WaitingCount 等待中的请求数
func (m *Manager) WaitingCount() int {
	return len(m.waiting)
}

// RunningCount 执行中的请求数
func (m *Manager) RunningCount() int {
	return len(m.running)
}

// IsRunning 请求是否正在执行
func (m *Manager) IsRunning(req *traffic.Request) bool {
	cur, ok := m.running[req.Transfer().ID()]
	return ok && cur == req
}

// IsWaiting 请求是否仍在等待队列中
func (m *Manager) IsWaiting(req *traffic.Request) bool {
	return m.waitingIndex(req) >= 0
}

func (m *Manager) waitingIndex(req *traffic.Request) int {
	for i, r := range m.waiting {
		if r == req {
			return i
		}
	}
	return -1
}

func (m *Manager) executeNextWaitingRequest() {
	if (m.limit == 0 || len(m.running) < m.limit) && len(m.waiting) > 0 {
		m.executeRequest(m.waiting[0])
	}
}

// executeRequest 只执行仍在等待队列中的请求，可重入
func (m *Manager) executeRequest(req *traffic.Request) {
	idx := m.waitingIndex(req)
	if idx < 0 {
		m.log.Debug("请求不在等待队列，忽略执行", "requestID", req.ID)
		return
	}
	m.waiting = append(m.waiting[:idx], m.waiting[idx+1:]...)

	t := req.Transfer()
	hydrateTransfer(t, req)
	triggerCallback(req.OnInitialize, req)

	if code := m.multi.Add(t); code != engine.MultiOK {
		m.log.Warn("传输句柄注册失败", "requestID", req.ID, "code", code.String())
		m.executeNextWaitingRequest()
		return
	}
	m.running[t.ID()] = req
	m.log.Debug("请求开始执行", "requestID", req.ID, "method", req.Method, "url", req.URL,
		"running", len(m.running))
	m.drive()
}

// hydrateTransfer 将请求字段写入传输句柄
func hydrateTransfer(t *engine.Transfer, req *traffic.Request) {
	t.SetOption(engine.OptCustomRequest, req.Method).
		SetOption(engine.OptURL, req.URL).
		SetOption(engine.OptReturnTransfer, true).
		SetOption(engine.OptHeader, true).
		SetOption(engine.OptFollowLocation, true).
		SetOption(engine.OptHTTPHeader, req.Header.Lines())

	if len(req.Body) > 0 {
		t.SetOption(engine.OptPostFields, req.Body)
	}
	if req.Timeout > 0 {
		t.SetOption(engine.OptTimeout, req.Timeout)
	}
	if req.BasicAuthUsername != "" && req.BasicAuthPassword != "" {
		t.SetOption(engine.OptUserPwd, req.BasicAuthUsername+":"+req.BasicAuthPassword)
	}
}

// drive 反复推进引擎，直到没有可立即完成的工作
func (m *Manager) drive() {
	for {
		code := m.multi.Perform()
		m.checkStatusMessages()
		if code != engine.MultiCallMultiPerform {
			if code.Fatal() {
				m.log.Warn("引擎驱动失败", "code", code.String(), "running", len(m.running))
			}
			return
		}
	}
}

func (m *Manager) checkStatusMessages() {
	for {
		msg, ok := m.multi.ReadInfo()
		if !ok {
			return
		}
		m.processResponse(msg.Result, msg.Handle)
		m.executeNextWaitingRequest()
	}
}

func (m *Manager) processResponse(code engine.ErrorCode, handle engine.HandleID) {
	req, ok := m.running[handle]
	if !ok {
		m.log.Debug("完成事件没有对应的请求", "handle", uint64(handle))
		return
	}
	m.parseResponse(req, code)
	triggerCallback(req.OnComplete, req)
	m.multi.Remove(req.Transfer())
	delete(m.running, handle)

	resp := req.Response()
	m.log.Debug("请求完成", "requestID", req.ID, "errorCode", int(code), "statusCode", resp.StatusCode,
		"running", len(m.running), "waiting", len(m.waiting))

	if m.recorder != nil {
		if err := m.recorder.Record(context.Background(), req); err != nil {
			m.log.Warn("记录传输历史失败", "requestID", req.ID, "error", err)
		}
	}
}

func (m *Manager) parseResponse(req *traffic.Request, code engine.ErrorCode) {
	t := req.Transfer()
	resp := req.Response()
	resp.ErrorCode = code
	resp.ErrorMessage = t.ErrorMessage()
	if code == engine.CodeOK {
		m.hydrateResponse(resp, t)
	}
}

func (m *Manager) hydrateResponse(resp *traffic.Response, t *engine.Transfer) {
	headerSize := t.InfoInt(engine.InfoHeaderSize)
	raw := m.multi.Content(t)
	if headerSize > len(raw) {
		headerSize = len(raw)
	}
	resp.StatusCode = t.InfoInt(engine.InfoHTTPCode)
	resp.Content = string(raw[headerSize:])
	parseResponseHeaders(resp, string(raw[:headerSize]))
}

// parseResponseHeaders 按跳拆分原始头部块，每跳生成一个 Header
func parseResponseHeaders(resp *traffic.Response, block string) {
	for _, hop := range strings.Split(block, "\r\n\r\n") {
		if hop == "" {
			continue
		}
		h := traffic.NewHeader()
		for _, line := range strings.Split(hop, "\r\n") {
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			h.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		resp.AddHeader(h)
	}
}

func triggerCallback(cb traffic.Callback, req *traffic.Request) {
	if cb != nil {
		cb(req)
	}
}

// WaitForAllRequests 阻塞直到所有请求完成，或引擎报告故障
func (m *Manager) WaitForAllRequests() *Manager {
	for m.multi.StillRunning() > 0 && m.multi.LastCode() == engine.MultiOK {
		m.multi.Wait(-1)
		m.drive()
	}
	return m
}

// WaitForSingleRequest 阻塞直到指定请求完成
//
// 请求仍在等待队列时会绕过并发上限立即执行。
func (m *Manager) WaitForSingleRequest(req *traffic.Request) *Manager {
	m.executeRequest(req)
	for m.multi.StillRunning() > 0 && m.multi.LastCode() == engine.MultiOK && m.IsRunning(req) {
		m.multi.Wait(-1)
		m.drive()
	}
	return m
}

// Close 释放引擎资源，重复调用返回首次结果
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.multi.Close()
		m.log.Debug("调度器已关闭", "running", len(m.running), "waiting", len(m.waiting))
	})
	return m.closeErr
}
