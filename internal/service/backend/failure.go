package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Kind 是请求失败的分类。
type Kind int

const (
	KindUnexpected Kind = iota
	KindNetworkUnreachable
	KindTimeout
	KindServerError
	KindCrossOriginRejected
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindTimeout:
		return "timeout"
	case KindServerError:
		return "server_error"
	case KindCrossOriginRejected:
		return "cross_origin_rejected"
	default:
		return "unexpected"
	}
}

// StatusError is returned when the backend answered with a non-2xx status.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend responded with status %d", e.Status)
}

// Failure is a classified backend error.
type Failure struct {
	Kind    Kind
	Status  int
	Body    []byte
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// BodyMessage returns the "message" field of a JSON error body, or "Unknown error".
func (f *Failure) BodyMessage() string {
	var body struct {
		Message string `json:"message"`
	}
	if len(f.Body) > 0 && json.Unmarshal(f.Body, &body) == nil && body.Message != "" {
		return body.Message
	}
	return "Unknown error"
}

// Classify maps any error from the client into a Failure. The checks run in a
// fixed order: HTTP status, deadline, cross-origin text, transport, anything else.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var existing *Failure
	if errors.As(err, &existing) {
		return existing
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return &Failure{
			Kind:    KindServerError,
			Status:  statusErr.Status,
			Body:    statusErr.Body,
			Message: err.Error(),
			Err:     err,
		}
	}

	if isTimeout(err) {
		return &Failure{Kind: KindTimeout, Message: err.Error(), Err: err}
	}

	if strings.Contains(strings.ToLower(err.Error()), "cors") {
		return &Failure{Kind: KindCrossOriginRejected, Message: err.Error(), Err: err}
	}

	var urlErr *url.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return &Failure{Kind: KindNetworkUnreachable, Message: err.Error(), Err: err}
	}

	return &Failure{Kind: KindUnexpected, Message: err.Error(), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
