// ABOUTME: Typed errors for sessions and remote contact calls
// ABOUTME: Maps transport and HTTP failures into recovery kinds and transport categories
package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/harperreed/contactsync/db"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Kind is the recovery class of an error.
type Kind string

const (
	KindUnconfigured        Kind = "unconfigured"
	KindTransient           Kind = "transient"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindRemoteValidation    Kind = "remote_validation"
	KindLocalInconsistency  Kind = "local_inconsistency"
	KindFatal               Kind = "fatal"
)

// Category is the transport-level shape of a remote failure.
type Category string

const (
	CategoryNone             Category = ""
	CategoryTimeout          Category = "timeout"
	CategoryConnectivityLoss Category = "connectivity_loss"
	CategoryRemoteHTTP       Category = "remote_http_error"
	CategoryUnexpected       Category = "unexpected"
)

var (
	// ErrAccountBusy is returned when the account lock could not be taken in time.
	ErrAccountBusy = errors.New("account sync already in progress")
	// ErrNotLinked is returned when a user has no usable remote account.
	ErrNotLinked = errors.New("no linked remote account")
)

const maxBodyInError = 512

// Error is a classified failure. Endpoint names the remote call for log attribution.
type Error struct {
	Kind     Kind
	Category Category
	Op       string
	Endpoint string
	Code     int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Endpoint != "" {
		b.WriteString(" ")
		b.WriteString(e.Endpoint)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Category != CategoryNone {
		b.WriteString("/")
		b.WriteString(string(e.Category))
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (http %d)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies any error returned by this package or the stores below it.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrNotLinked), errors.Is(err, db.ErrAccountNotFound):
		return KindUnconfigured
	case errors.Is(err, db.ErrLocalMissing), errors.Is(err, db.ErrImmutableField):
		return KindLocalInconsistency
	case errors.Is(err, ErrAccountBusy),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransient
	}
	return KindFatal
}

// IsConflict reports an etag precondition failure.
func IsConflict(err error) bool {
	return KindOf(err) == KindConcurrencyConflict
}

// IsNotFound reports a remote 404.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == 404
}

// IsTransport reports whether err is a transport or remote HTTP failure, as
// opposed to a local or contract failure.
func IsTransport(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Category != CategoryNone
}

// mapRemoteError converts a failure of a remote call into an *Error.
func mapRemoteError(op, endpoint string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	e := &Error{Op: op, Endpoint: endpoint, Err: err}

	var gerr *googleapi.Error
	var rerr *oauth2.RetrieveError
	var nerr net.Error
	var uerr *url.Error

	switch {
	case errors.As(err, &gerr):
		e.Category = CategoryRemoteHTTP
		e.Code = gerr.Code
		e.Body = truncate(gerr.Body, maxBodyInError)
		e.Err = errors.New(gerr.Message)
		e.Kind = kindForStatus(gerr)
	case errors.As(err, &rerr):
		// Token refresh failed while signing the request.
		e.Category = CategoryRemoteHTTP
		e.Err = fmt.Errorf("token refresh failed: %s", rerr.ErrorCode)
		if rerr.Response != nil {
			e.Code = rerr.Response.StatusCode
		}
		if e.Code >= 500 {
			e.Kind = KindTransient
		} else {
			e.Kind = KindUnconfigured
		}
	case errors.Is(err, context.DeadlineExceeded):
		e.Category = CategoryTimeout
		e.Kind = KindTransient
	case errors.As(err, &nerr) && nerr.Timeout():
		e.Category = CategoryTimeout
		e.Kind = KindTransient
	case errors.As(err, &uerr), isConnectivity(err):
		e.Category = CategoryConnectivityLoss
		e.Kind = KindTransient
	default:
		e.Category = CategoryUnexpected
		e.Kind = KindTransient
	}
	return e
}

func kindForStatus(gerr *googleapi.Error) Kind {
	switch {
	case gerr.Code == 412:
		return KindConcurrencyConflict
	case gerr.Code == 400 && isFailedPrecondition(gerr):
		return KindConcurrencyConflict
	case gerr.Code == 401:
		return KindUnconfigured
	case gerr.Code == 408 || gerr.Code == 429 || gerr.Code >= 500:
		return KindTransient
	default:
		return KindRemoteValidation
	}
}

func isFailedPrecondition(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if strings.EqualFold(item.Reason, "failedPrecondition") {
			return true
		}
	}
	return strings.Contains(gerr.Body, "FAILED_PRECONDITION") ||
		strings.Contains(strings.ToLower(gerr.Message), "etag")
}

func isConnectivity(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
