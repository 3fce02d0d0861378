package engine

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Message 一条传输完成事件
type Message struct {
	Handle HandleID
	Result ErrorCode
}

// MultiConfig 多传输引擎配置
type MultiConfig struct {
	// Transport 为空时使用 http.DefaultTransport
	Transport http.RoundTripper
}

type entryState int

const (
	stateRegistered entryState = iota
	stateInProgress
	stateCompleted
)

type entry struct {
	t      *Transfer
	state  entryState
	cancel context.CancelFunc
}

// Multi 多传输引擎，在一次非阻塞驱动中推进所有已注册的传输
//
// 引擎只持有句柄的成员关系，不负责句柄生命周期。
type Multi struct {
	transport http.RoundTripper
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	wake      chan struct{}

	mu       sync.Mutex
	entries  map[HandleID]*entry
	pending  []*entry
	finished []*entry
	messages []Message
	running  int
	lastCode MultiCode
	closed   bool
}

// NewMulti 创建多传输引擎，使用完毕后必须 Close
func NewMulti(cfg MultiConfig) *Multi {
	rt := cfg.Transport
	if rt == nil {
		rt = sharedTransport
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Multi{
		transport: rt,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		entries:   make(map[HandleID]*entry),
		lastCode:  MultiOK,
	}
}

// Add 注册一个传输句柄
func (m *Multi) Add(t *Transfer) MultiCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return MultiBadHandle
	}
	if t == nil || t.Closed() {
		return MultiBadEasyHandle
	}
	if _, ok := m.entries[t.id]; ok {
		return MultiAddedAlready
	}
	t.reset()
	e := &entry{t: t, state: stateRegistered}
	m.entries[t.id] = e
	m.pending = append(m.pending, e)
	m.running++
	return MultiOK
}

// Remove 注销一个传输句柄，进行中的传输会被中止
func (m *Multi) Remove(t *Transfer) MultiCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return MultiBadHandle
	}
	if t == nil {
		return MultiBadEasyHandle
	}
	e, ok := m.entries[t.id]
	if !ok {
		return MultiBadEasyHandle
	}
	delete(m.entries, t.id)
	if e.state != stateCompleted {
		m.running--
	}
	if e.cancel != nil {
		e.cancel()
	}
	m.pending = without(m.pending, e)
	m.finished = without(m.finished, e)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.Handle != t.id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return MultiOK
}

// Content 返回句柄累积的原始输出
func (m *Multi) Content(t *Transfer) []byte {
	return t.Content()
}

// Perform 非阻塞地推进所有传输一步
func (m *Multi) Perform() MultiCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.lastCode = MultiBadHandle
		return m.lastCode
	}

	started := len(m.pending)
	for _, e := range m.pending {
		m.start(e)
	}
	m.pending = m.pending[:0]

	for _, e := range m.finished {
		e.state = stateCompleted
		m.running--
		m.messages = append(m.messages, Message{Handle: e.t.id, Result: e.t.ErrorCode()})
	}
	m.finished = m.finished[:0]

	m.lastCode = MultiOK
	if started > 0 {
		m.lastCode = MultiCallMultiPerform
	}
	return m.lastCode
}

func (m *Multi) start(e *entry) {
	s, err := e.t.settings()
	if err != nil {
		cfgErr := err.(*Error)
		e.t.finish(result{code: cfgErr.Code, message: cfgErr.Message, info: make(map[InfoCode]any)})
		e.state = stateInProgress
		m.finished = append(m.finished, e)
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	e.cancel = cancel
	e.state = stateInProgress
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		res := perform(ctx, s, m.transport)
		m.complete(e, res)
	}()
}

func (m *Multi) complete(e *entry, res result) {
	m.mu.Lock()
	if cur, ok := m.entries[e.t.id]; !ok || cur != e {
		m.mu.Unlock()
		return
	}
	e.t.finish(res)
	m.finished = append(m.finished, e)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// ReadInfo 弹出一条完成事件
func (m *Multi) ReadInfo() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return Message{}, false
	}
	msg := m.messages[0]
	m.messages = m.messages[1:]
	return msg, true
}

// Wait 阻塞直到有传输就绪或超时，timeout 为负数时不限时
//
// 返回就绪的传输数量，可能为 0。
func (m *Multi) Wait(timeout time.Duration) int {
	m.mu.Lock()
	ready := len(m.finished)
	inFlight := m.running - ready - len(m.pending)
	m.mu.Unlock()
	if ready > 0 || inFlight <= 0 {
		return ready
	}

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-m.wake:
	case <-expired:
	case <-m.ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.finished)
}

// StillRunning 上一次驱动后仍未完成的传输数量
func (m *Multi) StillRunning() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastCode 上一次驱动的状态码
func (m *Multi) LastCode() MultiCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCode
}

// Close 释放引擎，中止所有进行中的传输
func (m *Multi) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.entries = make(map[HandleID]*entry)
	m.pending = nil
	m.finished = nil
	m.messages = nil
	m.running = 0
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

func without(list []*entry, e *entry) []*entry {
	for i := range list {
		if list[i] == e {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
