package manager

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"multireq/pkg/engine"
	"multireq/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine 同步模拟引擎：Wait 时完成所有进行中的传输，Perform 时产出完成事件
type scriptedEngine struct {
	registered map[engine.HandleID]*engine.Transfer
	inFlight   []engine.HandleID
	done       []engine.HandleID
	messages   []engine.Message
	running    int
	maxRunning int
	fatal      engine.MultiCode
	lastCode   engine.MultiCode
	addOrder   []engine.HandleID
	closed     int
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{registered: make(map[engine.HandleID]*engine.Transfer)}
}

func (e *scriptedEngine) Add(t *engine.Transfer) engine.MultiCode {
	if _, ok := e.registered[t.ID()]; ok {
		return engine.MultiAddedAlready
	}
	e.registered[t.ID()] = t
	e.inFlight = append(e.inFlight, t.ID())
	e.addOrder = append(e.addOrder, t.ID())
	e.running++
	if e.running > e.maxRunning {
		e.maxRunning = e.running
	}
	return engine.MultiOK
}

func (e *scriptedEngine) Remove(t *engine.Transfer) engine.MultiCode {
	if _, ok := e.registered[t.ID()]; !ok {
		return engine.MultiBadEasyHandle
	}
	delete(e.registered, t.ID())
	return engine.MultiOK
}

func (e *scriptedEngine) Content(*engine.Transfer) []byte { return []byte("body") }

func (e *scriptedEngine) Perform() engine.MultiCode {
	if e.fatal != engine.MultiOK {
		e.lastCode = e.fatal
		return e.fatal
	}
	for _, id := range e.done {
		e.running--
		e.messages = append(e.messages, engine.Message{Handle: id, Result: engine.CodeOK})
	}
	e.done = nil
	e.lastCode = engine.MultiOK
	return engine.MultiOK
}

func (e *scriptedEngine) ReadInfo() (engine.Message, bool) {
	if len(e.messages) == 0 {
		return engine.Message{}, false
	}
	msg := e.messages[0]
	e.messages = e.messages[1:]
	return msg, true
}

func (e *scriptedEngine) Wait(time.Duration) int {
	e.done = append(e.done, e.inFlight...)
	e.inFlight = nil
	return len(e.done)
}

func (e *scriptedEngine) StillRunning() int { return e.running }
func (e *scriptedEngine) LastCode() engine.MultiCode { return e.lastCode }
func (e *scriptedEngine) Close() error { e.closed++; return nil }

type recorderFunc func(ctx context.Context, req *traffic.Request) error

func (f recorderFunc) Record(ctx context.Context, req *traffic.Request) error { return f(ctx, req) }

func newRequests(t *testing.T, n int) []*traffic.Request {
	t.Helper()
	reqs := make([]*traffic.Request, n)
	for i := range reqs {
		reqs[i] = traffic.NewRequest().SetURL("http://example.invalid/")
		t.Cleanup(func() { _ = reqs[i].Close() })
	}
	return reqs
}

func TestManager_ParallelLimitFIFO(t *testing.T) {
	fe := newScriptedEngine()
	m := New(Config{Engine: fe, ParallelLimit: 1})
	defer m.Close()

	reqs := newRequests(t, 3)
	var order []string
	completions := make(map[string]int)
	for _, req := range reqs {
		req.OnComplete = func(r *traffic.Request) {
			order = append(order, r.ID)
			completions[r.ID]++
		}
		m.AddRequest(req)
	}

	assert.Equal(t, 1, m.RunningCount())
	assert.Equal(t, 2, m.WaitingCount())
	assert.True(t, m.IsRunning(reqs[0]))
	assert.True(t, m.IsWaiting(reqs[2]))

	m.WaitForAllRequests()

	assert.Equal(t, 1, fe.maxRunning)
	assert.Equal(t, []string{reqs[0].ID, reqs[1].ID, reqs[2].ID}, order)
	for _, req := range reqs {
		assert.Equal(t, 1, completions[req.ID])
		assert.Equal(t, "body", req.Response().Content)
	}
	assert.Equal(t, 0, m.RunningCount())
	assert.Equal(t, 0, m.WaitingCount())
}

func TestManager_UnlimitedStartsAll(t *testing.T) {
	fe := newScriptedEngine()
	m := New(Config{Engine: fe})
	defer m.Close()

	for _, req := range newRequests(t, 4) {
		m.AddRequest(req)
	}
	assert.Equal(t, 4, m.RunningCount())
	assert.Equal(t, 0, m.WaitingCount())
	m.WaitForAllRequests()
	assert.Equal(t, 4, fe.maxRunning)
}

func TestManager_NegativeLimitMeansUnlimited(t *testing.T) {
	m := New(Config{Engine: newScriptedEngine(), ParallelLimit: -3})
	defer m.Close()
	assert.Equal(t, 0, m.ParallelLimit())
	assert.Equal(t, 2, m.SetParallelLimit(2).ParallelLimit())
}

func TestManager_WaitForSingleRequestBypassesLimit(t *testing.T) {
	fe := newScriptedEngine()
	m := New(Config{Engine: fe, ParallelLimit: 1})
	defer m.Close()

	reqs := newRequests(t, 3)
	done := make(map[string]bool)
	for _, req := range reqs {
		req.OnComplete = func(r *traffic.Request) { done[r.ID] = true }
		m.AddRequest(req)
	}

	m.WaitForSingleRequest(reqs[2])

	assert.True(t, done[reqs[2].ID])
	assert.Equal(t, 2, fe.maxRunning)
	assert.Equal(t, reqs[2].Transfer().ID(), fe.addOrder[1])
	assert.False(t, m.IsWaiting(reqs[2]))
	assert.False(t, m.IsRunning(reqs[2]))

	m.WaitForAllRequests()
	assert.Len(t, done, 3)
}

func TestManager_WaitForSingleRequestUnknown(t *testing.T) {
	fe := newScriptedEngine()
	m := New(Config{Engine: fe})
	defer m.Close()

	req := newRequests(t, 1)[0]
	m.WaitForSingleRequest(req)
	assert.Empty(t, fe.addOrder)
}

func TestManager_FatalEngineStopsWaiting(t *testing.T) {
	fe := newScriptedEngine()
	fe.fatal = engine.MultiInternalError
	m := New(Config{Engine: fe})
	defer m.Close()

	req := newRequests(t, 1)[0]
	called := false
	req.OnComplete = func(*traffic.Request) { called = true }
	m.AddRequest(req)

	m.WaitForAllRequests()
	m.WaitForSingleRequest(req)

	assert.False(t, called)
	assert.Equal(t, 1, m.RunningCount())
}

func TestManager_ReentrantAddFromCallback(t *testing.T) {
	fe := newScriptedEngine()
	m := New(Config{Engine: fe, ParallelLimit: 1})
	defer m.Close()

	reqs := newRequests(t, 2)
	var order []string
	reqs[1].OnComplete = func(r *traffic.Request) { order = append(order, r.ID) }
	reqs[0].OnComplete = func(r *traffic.Request) {
		order = append(order, r.ID)
		m.AddRequest(reqs[1])
	}
	m.AddRequest(reqs[0])
	m.WaitForAllRequests()

	assert.Equal(t, []string{reqs[0].ID, reqs[1].ID}, order)
	assert.Equal(t, 0, m.RunningCount())
}

func TestManager_OnInitializeBeforeAdd(t *testing.T) {
	fe := newScriptedEngine()
	m := New(Config{Engine: fe})
	defer m.Close()

	req := newRequests(t, 1)[0]
	req.OnInitialize = func(r *traffic.Request) {
		assert.Empty(t, fe.addOrder)
		v, ok := r.Transfer().Option(engine.OptURL)
		assert.True(t, ok)
		assert.Equal(t, r.URL, v)
	}
	m.AddRequest(req)
	assert.Len(t, fe.addOrder, 1)
}

func TestManager_RecorderInvoked(t *testing.T) {
	fe := newScriptedEngine()
	var recorded []string
	rec := recorderFunc(func(_ context.Context, req *traffic.Request) error {
		recorded = append(recorded, req.ID)
		return errors.New("disk full")
	})
	m := New(Config{Engine: fe, Recorder: rec})
	defer m.Close()

	reqs := newRequests(t, 2)
	for _, req := range reqs {
		m.AddRequest(req)
	}
	m.WaitForAllRequests()
	assert.ElementsMatch(t, []string{reqs[0].ID, reqs[1].ID}, recorded)
}

func TestManager_CloseOnce(t *testing.T) {
	fe := newScriptedEngine()
	m := New(Config{Engine: fe})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, fe.closed)
}

func TestHydrateTransfer(t *testing.T) {
	req := traffic.NewRequest().SetURL("http://example.com/a").SetMethod(traffic.MethodPut)
	defer req.Close()
	req.Header.Set("X-A", "1").Set("X-B", "2")

	hydrateTransfer(req.Transfer(), req)
	opts := req.Transfer().Options()
	assert.Equal(t, "PUT", opts[engine.OptCustomRequest])
	assert.Equal(t, "http://example.com/a", opts[engine.OptURL])
	assert.Equal(t, true, opts[engine.OptReturnTransfer])
	assert.Equal(t, true, opts[engine.OptHeader])
	assert.Equal(t, true, opts[engine.OptFollowLocation])
	assert.Equal(t, []string{"X-A: 1", "X-B: 2"}, opts[engine.OptHTTPHeader])
	assert.NotContains(t, opts, engine.OptPostFields)
	assert.NotContains(t, opts, engine.OptTimeout)
	assert.NotContains(t, opts, engine.OptUserPwd)

	full := traffic.NewRequest().SetURL("http://example.com").
		SetBody("x=1").SetTimeout(3).SetBasicAuth("u", "p")
	defer full.Close()
	hydrateTransfer(full.Transfer(), full)
	opts = full.Transfer().Options()
	assert.Equal(t, "x=1", opts[engine.OptPostFields])
	assert.Equal(t, 3, opts[engine.OptTimeout])
	assert.Equal(t, "u:p", opts[engine.OptUserPwd])

	partial := traffic.NewRequest().SetBasicAuth("u", "")
	defer partial.Close()
	hydrateTransfer(partial.Transfer(), partial)
	assert.NotContains(t, partial.Transfer().Options(), engine.OptUserPwd)
}

func TestParseResponseHeaders(t *testing.T) {
	resp := traffic.NewResponse()
	parseResponseHeaders(resp, "HTTP/1.1 302 Found\r\nH1: v1\r\n\r\nHTTP/1.1 200 OK\r\nH2: v2\r\nH3: a:b\r\n\r\n")

	require.Len(t, resp.Headers, 2)
	assert.Equal(t, []string{"H1"}, resp.Headers[0].Names())
	assert.Equal(t, "v1", resp.LastHeader().Get("H1"))
	assert.Equal(t, []string{"H2", "H3"}, resp.FinalHeader().Names())
	assert.Equal(t, "a:b", resp.FinalHeader().Get("H3"))

	empty := traffic.NewResponse()
	parseResponseHeaders(empty, "")
	assert.Empty(t, empty.Headers)
}

func TestManager_RealEngineRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Step", "a")
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Step", "b")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("payload"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := New(Config{ParallelLimit: 2})
	defer m.Close()

	req := traffic.NewRequest().SetURL(srv.URL + "/a")
	defer req.Close()
	m.AddRequest(req).WaitForAllRequests()

	resp := req.Response()
	assert.Equal(t, engine.CodeOK, resp.ErrorCode)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "payload", resp.Content)
	require.Len(t, resp.Headers, 2)
	assert.Equal(t, "a", resp.LastHeader().Get("X-Step"))
	assert.Equal(t, "b", resp.FinalHeader().Get("X-Step"))
}

func TestManager_RealEngineFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := New(Config{})
	defer m.Close()

	req := traffic.NewRequest().SetURL("http://" + addr + "/")
	defer req.Close()
	m.AddRequest(req).WaitForSingleRequest(req)

	resp := req.Response()
	assert.Equal(t, engine.CodeCouldntConnect, resp.ErrorCode)
	assert.Equal(t, req.Transfer().ErrorMessage(), resp.ErrorMessage)
	assert.NotEmpty(t, resp.ErrorMessage)
	assert.Equal(t, 0, resp.StatusCode)
	assert.Empty(t, resp.Headers)
	assert.Empty(t, resp.Content)
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_RegistrationFailureKeepsQueueMoving(t *testing.T) {
	srv := newEchoServer(t)
	m := New(Config{ParallelLimit: 1})
	defer m.Close()

	reqs := []*traffic.Request{
		traffic.NewRequest().SetURL(srv.URL + "/a"),
		traffic.NewRequest().SetURL(srv.URL + "/b"),
		traffic.NewRequest().SetURL(srv.URL + "/c"),
	}
	for _, req := range reqs {
		defer req.Close()
	}
	require.NoError(t, reqs[1].Transfer().Close())

	done := make(map[string]bool)
	for _, req := range reqs {
		req.OnComplete = func(r *traffic.Request) { done[r.Response().Content] = true }
		m.AddRequest(req)
	}
	m.WaitForAllRequests()

	assert.Equal(t, map[string]bool{"/a": true, "/c": true}, done)
	assert.Equal(t, 0, m.WaitingCount())
	assert.Equal(t, 0, m.RunningCount())
}

func TestManager_ZeroValueRequest(t *testing.T) {
	srv := newEchoServer(t)
	m := New(Config{})
	defer m.Close()

	req := &traffic.Request{URL: srv.URL + "/zero"}
	defer req.Close()
	m.AddRequest(req).WaitForSingleRequest(req)

	assert.Equal(t, engine.CodeOK, req.Response().ErrorCode)
	assert.Equal(t, "/zero", req.Response().Content)
}
