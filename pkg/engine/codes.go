package engine

import "fmt"

// ErrorCode 单个传输的结果码，0 表示成功
type ErrorCode int

const (
	CodeOK                  ErrorCode = 0
	CodeUnsupportedProtocol ErrorCode = 1
	CodeURLMalformat        ErrorCode = 3
	CodeCouldntResolveHost  ErrorCode = 6
	CodeCouldntConnect      ErrorCode = 7
	CodeOperationTimedOut   ErrorCode = 28
	CodeSSLConnectError     ErrorCode = 35
	CodeAbortedByCallback   ErrorCode = 42
	CodeBadFunctionArgument ErrorCode = 43
	CodeTooManyRedirects    ErrorCode = 47
	CodeGotNothing          ErrorCode = 52
	CodeSendError           ErrorCode = 55
	CodeRecvError           ErrorCode = 56
)

var codeNames = map[ErrorCode]string{
	CodeOK:                  "No error",
	CodeUnsupportedProtocol: "Unsupported protocol",
	CodeURLMalformat:        "URL using bad/illegal format or missing URL",
	CodeCouldntResolveHost:  "Couldn't resolve host name",
	CodeCouldntConnect:      "Couldn't connect to server",
	CodeOperationTimedOut:   "Timeout was reached",
	CodeSSLConnectError:     "SSL connect error",
	CodeAbortedByCallback:   "Operation was aborted",
	CodeBadFunctionArgument: "A function was given a bad argument",
	CodeTooManyRedirects:    "Number of redirects hit maximum amount",
	CodeGotNothing:          "Server returned nothing (no headers, no data)",
	CodeSendError:           "Failed sending data to the peer",
	CodeRecvError:           "Failure when receiving data from the peer",
}

// String 返回结果码的可读描述
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error (%d)", int(c))
}

// MultiCode 多传输引擎的驱动状态码
type MultiCode int

const (
	// MultiCallMultiPerform 无需等待即可继续推进
	MultiCallMultiPerform MultiCode = -1
	// MultiOK 当前没有可立即推进的工作
	MultiOK            MultiCode = 0
	MultiBadHandle     MultiCode = 1
	MultiBadEasyHandle MultiCode = 2
	MultiOutOfMemory   MultiCode = 3
	MultiInternalError MultiCode = 4
	MultiAddedAlready  MultiCode = 7
)

// String 返回状态码名称
func (c MultiCode) String() string {
	switch c {
	case MultiCallMultiPerform:
		return "CALL_MULTI_PERFORM"
	case MultiOK:
		return "OK"
	case MultiBadHandle:
		return "BAD_HANDLE"
	case MultiBadEasyHandle:
		return "BAD_EASY_HANDLE"
	case MultiOutOfMemory:
		return "OUT_OF_MEMORY"
	case MultiInternalError:
		return "INTERNAL_ERROR"
	case MultiAddedAlready:
		return "ADDED_ALREADY"
	}
	return fmt.Sprintf("MULTI_CODE(%d)", int(c))
}

// Fatal 是否为引擎级故障
func (c MultiCode) Fatal() bool {
	return c != MultiOK && c != MultiCallMultiPerform
}

// Error 单次阻塞传输失败时返回的错误
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Message
}
