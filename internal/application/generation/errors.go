package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrorKind 上游错误分类
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindRateLimited      ErrorKind = "rate_limited"
	KindServerError      ErrorKind = "server_error"
	KindClientError      ErrorKind = "client_error"
	KindMalformedRequest ErrorKind = "malformed_request"
	KindCanceled         ErrorKind = "canceled"
	KindUnknown          ErrorKind = "unknown"
)

// Retryable 超时、限流、服务端错误可重试
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

var (
	// ErrExhaustedRetries 重试次数耗尽
	ErrExhaustedRetries = errors.New("generation retries exhausted")
	// ErrMalformedRequest 请求在发出前即被拒绝
	ErrMalformedRequest = errors.New("malformed generation request")
)

// UpstreamError 分类后的上游错误
type UpstreamError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable 是否可重试
func (e *UpstreamError) Retryable() bool {
	return e != nil && e.Kind.Retryable()
}

// NewStatusError 按 HTTP 状态码构造上游错误，供 Provider 实现使用
func NewStatusError(status int, err error) *UpstreamError {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &UpstreamError{Kind: kindForStatus(status), StatusCode: status, Err: err}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}

// Classify 将任意错误归类；已分类的错误原样返回
func Classify(err error) *UpstreamError {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}

	kind := KindUnknown
	var netErr net.Error
	switch {
	case errors.Is(err, ErrMalformedRequest):
		kind = KindMalformedRequest
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		kind = KindServerError
	}
	return &UpstreamError{Kind: kind, Err: err}
}

// ExhaustedRetriesError 所有尝试均以可重试错误失败
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap 同时匹配 ErrExhaustedRetries 与最后一次错误
func (e *ExhaustedRetriesError) Unwrap() []error {
	return []error{ErrExhaustedRetries, e.Last}
}

// AttemptError 记录失败前已向 Provider 发起的调用次数
type AttemptError struct {
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	return e.Err.Error()
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// AttemptsOf 返回错误链上记录的调用次数，未记录时为 0
func AttemptsOf(err error) int {
	var ex *ExhaustedRetriesError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 0
}

func withAttempts(attempts int, err error) error {
	if err == nil || attempts <= 0 {
		return err
	}
	return &AttemptError{Attempts: attempts, Err: err}
}
