package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies a failure class. Codes are part of the caller-visible
// API payload, so they are stable strings rather than numeric constants.
type ErrorCode string

const (
	CodeMissingConfig                 ErrorCode = "MISSING_CONFIG"
	CodeMissingConfigFields           ErrorCode = "MISSING_CONFIG_FIELDS"
	CodeInvalidConfig                 ErrorCode = "INVALID_CONFIG"
	CodeBranchMismatch                ErrorCode = "BRANCH_MISMATCH"
	CodeInvalidFields                 ErrorCode = "INVALID_FIELDS"
	CodeMissingRequiredFields         ErrorCode = "MISSING_REQUIRED_FIELDS"
	CodeInvalidFormat                 ErrorCode = "INVALID_FORMAT"
	CodeNoFrontmatterContentTransform ErrorCode = "NO_FRONTMATTER_CONTENT_TRANSFORM"
	CodeFileAlreadyExists             ErrorCode = "FILE_ALREADY_EXISTS"
	CodeHashMismatch                  ErrorCode = "HASH_MISMATCH"
	CodeMissingCaptchaCredentials     ErrorCode = "RECAPTCHA_MISSING_CREDENTIALS"
	CodeCaptchaFailedDecrypt          ErrorCode = "RECAPTCHA_FAILED_DECRYPT"
	CodeCaptchaConfigMismatch         ErrorCode = "RECAPTCHA_CONFIG_MISMATCH"
	CodeCaptchaFailed                 ErrorCode = "RECAPTCHA_FAILED"
	CodeUpstreamFailure               ErrorCode = "UPSTREAM_FAILURE"
)

// Error is a typed pipeline error. Data carries caller-safe detail, such as
// the list of offending field names.
type Error struct {
	Code    ErrorCode
	Message string
	Data    []string
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Data, ", "))
	}
	return e.Message
}

// Is matches any *Error with the same code, so callers can test against
// bare sentinels like ErrBranchMismatch.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func NewError(code ErrorCode, message string, data ...string) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

var (
	ErrMissingConfig   = &Error{Code: CodeMissingConfig, Message: "missing site config"}
	ErrBranchMismatch  = &Error{Code: CodeBranchMismatch, Message: "branch mismatch"}
	ErrInvalidFormat   = &Error{Code: CodeInvalidFormat, Message: "invalid file creation format"}
	ErrHashMismatch    = &Error{Code: CodeHashMismatch, Message: "email hash mismatch"}
	ErrFileExists      = &Error{Code: CodeFileAlreadyExists, Message: "file already exists"}
	ErrNoFrontmatter   = &Error{Code: CodeNoFrontmatterContentTransform, Message: "no frontmatterContent transform"}
	ErrCaptchaFailed   = &Error{Code: CodeCaptchaFailed, Message: "reCAPTCHA verification failed"}
	ErrCaptchaMismatch = &Error{Code: CodeCaptchaConfigMismatch, Message: "reCAPTCHA options do not match site config"}
)

// UpstreamError wraps a repository-host or mail-provider failure. Only the
// operation name and status code are ever shown to callers; upstream
// response bodies may embed credentials and stay out of the payload.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream request failed", e.Op)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is enables errors.Is matching on UpstreamError regardless of status.
func (e *UpstreamError) Is(target error) bool {
	_, ok := target.(*UpstreamError)
	return ok
}

// ErrUpstream is the sentinel for upstream failures.
var ErrUpstream = &UpstreamError{}

// UpstreamStatus returns the status code when err is an UpstreamError.
func UpstreamStatus(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}
