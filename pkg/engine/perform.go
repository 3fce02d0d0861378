package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// defaultMaxRedirs 未设置 OptMaxRedirs 时允许的最大重定向次数
const defaultMaxRedirs = 30

var errTooManyRedirects = errors.New("maximum redirects followed")

var sharedTransport http.RoundTripper = http.DefaultTransport

type result struct {
	code    ErrorCode
	message string
	content []byte
	info    map[InfoCode]any
}

// settings 执行时的选项快照
type settings struct {
	url            string
	method         string
	body           string
	hasBody        bool
	timeout        time.Duration
	userpwd        string
	headerLines    []string
	includeHeader  bool
	returnTransfer bool
	follow         bool
	maxRedirs      int
	writer         io.Writer
}

func (t *Transfer) settings() (settings, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return settings{}, &Error{Code: CodeBadFunctionArgument, Message: "transfer handle is closed"}
	}
	s := settings{maxRedirs: defaultMaxRedirs, writer: os.Stdout}
	for o, v := range t.opts {
		if !applyOption(&s, o, v) {
			return settings{}, &Error{
				Code:    CodeBadFunctionArgument,
				Message: fmt.Sprintf("invalid value %T for option %s", v, o),
			}
		}
	}
	return s, nil
}

func applyOption(s *settings, o Option, v any) bool {
	var ok bool
	switch o {
	case OptURL:
		s.url, ok = v.(string)
	case OptCustomRequest:
		s.method, ok = v.(string)
	case OptPostFields:
		switch b := v.(type) {
		case string:
			s.body, ok = b, true
		case []byte:
			s.body, ok = string(b), true
		}
		s.hasBody = ok
	case OptTimeout:
		var secs int
		secs, ok = toInt(v)
		s.timeout = time.Duration(secs) * time.Second
	case OptUserPwd:
		s.userpwd, ok = v.(string)
	case OptHTTPHeader:
		s.headerLines, ok = v.([]string)
	case OptHeader:
		s.includeHeader, ok = v.(bool)
	case OptReturnTransfer:
		s.returnTransfer, ok = v.(bool)
	case OptFollowLocation:
		s.follow, ok = v.(bool)
	case OptMaxRedirs:
		s.maxRedirs, ok = toInt(v)
	case OptWriter:
		s.writer, ok = v.(io.Writer)
	}
	return ok
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	}
	return 0, false
}

// hopRecorder 记录重定向链上每一跳的响应头块
type hopRecorder struct {
	base http.RoundTripper
	buf  bytes.Buffer
	hops int
}

func (r *hopRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&r.buf, "%s %s\r\n", resp.Proto, resp.Status)
	_ = resp.Header.Write(&r.buf)
	r.buf.WriteString("\r\n")
	r.hops++
	return resp, nil
}

// perform 执行一次完整传输，返回结果而不修改句柄
func perform(ctx context.Context, s settings, rt http.RoundTripper) result {
	start := time.Now()
	res := result{info: make(map[InfoCode]any)}
	fail := func(code ErrorCode, msg string) result {
		res.code = code
		res.message = msg
		res.info[InfoTotalTime] = time.Since(start).Seconds()
		return res
	}

	if s.url == "" {
		return fail(CodeURLMalformat, "No URL set")
	}
	u, err := url.Parse(s.url)
	if err != nil {
		return fail(CodeURLMalformat, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fail(CodeUnsupportedProtocol, fmt.Sprintf("Protocol %q not supported", u.Scheme))
	}
	if u.Host == "" {
		return fail(CodeURLMalformat, "No host part in the URL")
	}

	method := s.method
	if method == "" {
		method = http.MethodGet
		if s.hasBody {
			method = http.MethodPost
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var body io.Reader
	if s.hasBody {
		body = strings.NewReader(s.body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url, body)
	if err != nil {
		return fail(CodeBadFunctionArgument, err.Error())
	}
	for _, line := range s.headerLines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if strings.EqualFold(name, "Host") {
			req.Host = value
			continue
		}
		req.Header.Add(name, value)
	}
	if s.userpwd != "" {
		user, pass, _ := strings.Cut(s.userpwd, ":")
		req.SetBasicAuth(user, pass)
	}

	rec := &hopRecorder{base: rt}
	client := &http.Client{
		Transport: rec,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if !s.follow {
				return http.ErrUseLastResponse
			}
			if s.maxRedirs >= 0 && len(via) > s.maxRedirs {
				return errTooManyRedirects
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		res.info[InfoHeaderSize] = rec.buf.Len()
		return fail(classify(err), err.Error())
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	headers := rec.buf.Bytes()

	res.info[InfoHeaderSize] = len(headers)
	res.info[InfoHTTPCode] = resp.StatusCode
	res.info[InfoEffectiveURL] = resp.Request.URL.String()
	res.info[InfoRedirectCount] = rec.hops - 1
	res.info[InfoContentType] = resp.Header.Get("Content-Type")
	res.info[InfoSizeDownload] = len(data)
	res.info[InfoTotalTime] = time.Since(start).Seconds()
	if readErr != nil {
		res.code = classify(readErr)
		res.message = readErr.Error()
	}

	out := data
	if s.includeHeader {
		out = make([]byte, 0, len(headers)+len(data))
		out = append(out, headers...)
		out = append(out, data...)
	}
	if s.returnTransfer {
		res.content = out
		return res
	}
	if _, err := s.writer.Write(out); err != nil && res.code == CodeOK {
		res.code = CodeRecvError
		res.message = err.Error()
	}
	return res
}

// classify 将 Go 网络错误映射为传输结果码
func classify(err error) ErrorCode {
	var (
		dnsErr     *net.DNSError
		opErr      *net.OpError
		certErr    *tls.CertificateVerificationError
		recordErr  tls.RecordHeaderError
		authErr    x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		timeoutErr interface{ Timeout() bool }
	)
	switch {
	case errors.Is(err, errTooManyRedirects):
		return CodeTooManyRedirects
	case errors.Is(err, context.DeadlineExceeded):
		return CodeOperationTimedOut
	case errors.Is(err, context.Canceled):
		return CodeAbortedByCallback
	case errors.As(err, &dnsErr):
		return CodeCouldntResolveHost
	case errors.As(err, &certErr), errors.As(err, &recordErr),
		errors.As(err, &authErr), errors.As(err, &hostErr):
		return CodeSSLConnectError
	case errors.As(err, &timeoutErr) && timeoutErr.Timeout():
		return CodeOperationTimedOut
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return CodeCouldntConnect
	case errors.As(err, &opErr) && opErr.Op == "write":
		return CodeSendError
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeGotNothing
	}
	return CodeRecvError
}
