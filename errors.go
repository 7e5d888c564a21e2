package easysftp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"

	"github.com/pkg/sftp"
)

// Kind classifies why an operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidConfig
	KindInvalidArgument
	KindAuth
	KindNotFound
	KindPermission
	KindExists
	KindTimeout
	KindIO
	KindNotConnected
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindInvalidConfig:   "invalid config",
	KindInvalidArgument: "invalid argument",
	KindAuth:            "authentication failed",
	KindNotFound:        "not found",
	KindPermission:      "permission denied",
	KindExists:          "already exists",
	KindTimeout:         "timeout",
	KindIO:              "i/o error",
	KindNotConnected:    "not connected",
	KindCanceled:        "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrNotConnected is returned by operations on a session without a connection.
var ErrNotConnected = errors.New("sftp session is not connected")

var errNotDirectory = errors.New("not a directory")

// Error is returned by every Session operation.
type Error struct {
	// Op is the operation that failed, e.g. "download".
	Op string
	// Path is the remote (or local, for uploads) path involved, if any.
	Path string
	// Kind is the failure category.
	Kind Kind
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" && e.Path == "" {
		// Kind-only errors are wrapped by callers and describe just the cause.
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Kind.String()
	}

	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// newError wraps err for op, classifying it unless it already carries a kind.
// Context added around an inner *Error is kept.
func newError(op, path string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		cause := err
		if direct, ok := err.(*Error); ok {
			cause = direct.Err
		}
		return &Error{Op: op, Path: path, Kind: e.Kind, Err: cause}
	}
	return &Error{Op: op, Path: path, Kind: classify(err), Err: err}
}

// KindOf returns the Kind of err. Errors that did not come from a Session
// are classified the same way Session errors are.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classify(err)
}

// IsNotFound reports whether err means a path does not exist.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return err != nil && KindOf(err) == KindAuth }

// sshFxFileAlreadyExists is SSH_FX_FILE_ALREADY_EXISTS from the v5+ drafts,
// which some servers send for v3 clients anyway.
const sshFxFileAlreadyExists = 11

var (
	authMessages = []string{
		"ssh: unable to authenticate",
		"no supported methods remain",
		"permission denied (publickey",
		"permission denied (password",
	}
	timeoutMessages = []string{
		"i/o timeout",
		"deadline exceeded",
	}
	ioMessages = []string{
		"connection refused",
		"connection reset",
		"connection lost",
		"broken pipe",
		"no route to host",
		"network is unreachable",
		"handshake failed",
		"ssh: disconnect",
		"use of closed network connection",
		"no such host",
		"unexpected eof",
	}
)

func classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	switch {
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errNotDirectory):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.Is(err, fs.ErrExist):
		return KindExists
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return KindNotFound
		case sftp.ErrSSHFxPermissionDenied:
			return KindPermission
		case sftp.ErrSSHFxNoConnection, sftp.ErrSSHFxConnectionLost:
			return KindIO
		}
		if statusErr.Code == sshFxFileAlreadyExists {
			return KindExists
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, authMessages) {
		return KindAuth
	}
	if containsAny(msg, timeoutMessages) {
		return KindTimeout
	}
	if containsAny(msg, ioMessages) {
		return KindIO
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindIO
	}

	return KindUnknown
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
