// Package termerr defines the error-kind taxonomy shared by every
// termcamng subsystem.
package termerr

import "fmt"

// Code identifies the subsystem and nature of an error.
type Code string

const (
	ErrParserMalformed  Code = "PARSER_MALFORMED_ESCAPE"
	ErrRasterMissing    Code = "RASTERIZER_MISSING_GLYPH"
	ErrEncoderCompress  Code = "ENCODER_COMPRESS_FAILED"
	ErrNetworkIO        Code = "NETWORK_IO"
	ErrPTYSpawn         Code = "PTY_SPAWN_FAILED"
	ErrPTYChildExit     Code = "PTY_CHILD_EXIT"
	ErrConfigLoad       Code = "CONFIG_LOAD_FAILED"
	ErrBindFailed       Code = "BIND_FAILED"
	ErrFontLoad         Code = "FONT_LOAD_FAILED"
	ErrKeyLoad          Code = "KEY_LOAD_FAILED"
	ErrInternal         Code = "INTERNAL_ERROR"
)

// TermError wraps an underlying cause with a Code for programmatic
// dispatch and a human message for logs.
type TermError struct {
	Message string
	Code    Code
	Cause   error
}

func (e *TermError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TermError) Unwrap() error { return e.Cause }

// New constructs a TermError with no underlying cause.
func New(code Code, message string) *TermError {
	return &TermError{Message: message, Code: code}
}

// Wrap constructs a TermError around an existing error.
func Wrap(code Code, message string, cause error) *TermError {
	return &TermError{Message: message, Code: code, Cause: cause}
}

// Is reports whether err is a *TermError carrying the given code.
func Is(err error, code Code) bool {
	te, ok := err.(*TermError)
	return ok && te.Code == code
}
