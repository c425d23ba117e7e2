package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes bridge failures.
type ErrorCode string

const (
	CodeRange             ErrorCode = "range"
	CodeOutOfMemory       ErrorCode = "out_of_memory"
	CodeOutOfBounds       ErrorCode = "out_of_bounds"
	CodeUnsupportedModule ErrorCode = "unsupported_module"
	CodeLayoutConflict    ErrorCode = "layout_conflict"
	CodeUnknownType       ErrorCode = "unknown_type"
	CodeSymbolNotFound    ErrorCode = "symbol_not_found"
	CodeSignatureMismatch ErrorCode = "signature_mismatch"
	CodeGuestTrap         ErrorCode = "guest_trap"
)

// Step identifies where in the bridge an error was raised.
type Step string

const (
	StepRegister  Step = "register"
	StepResolve   Step = "resolve"
	StepAllocate  Step = "allocate"
	StepMarshal   Step = "marshal"
	StepInvoke    Step = "invoke"
	StepUnmarshal Step = "unmarshal"
	StepRelease   Step = "release"
)

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrRange             = &Error{Code: CodeRange}
	ErrOutOfMemory       = &Error{Code: CodeOutOfMemory}
	ErrOutOfBounds       = &Error{Code: CodeOutOfBounds}
	ErrUnsupportedModule = &Error{Code: CodeUnsupportedModule}
	ErrLayoutConflict    = &Error{Code: CodeLayoutConflict}
	ErrUnknownType       = &Error{Code: CodeUnknownType}
	ErrSymbolNotFound    = &Error{Code: CodeSymbolNotFound}
	ErrSignatureMismatch = &Error{Code: CodeSignatureMismatch}
	ErrGuestTrap         = &Error{Code: CodeGuestTrap}
)

// Error is the structured error returned by every bridge operation.
type Error struct {
	Code   ErrorCode
	Step   Step
	Symbol string
	// Path locates the failing value, e.g. ["arg1", "label", "text"].
	Path   []string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Step != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Step))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Code))

	if e.Symbol != "" {
		b.WriteString(" in '")
		b.WriteString(e.Symbol)
		b.WriteByte('\'')
	}
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, step Step, format string, args ...any) *Error {
	return &Error{Code: code, Step: step, Detail: fmt.Sprintf(format, args...)}
}

// annotate fills in the step, symbol and a path prefix on bridge errors that
// do not carry them yet. Foreign errors are returned unchanged.
func annotate(err error, step Step, symbol string, path ...string) error {
	var be *Error
	if !errors.As(err, &be) {
		return err
	}
	out := *be
	if out.Step == "" {
		out.Step = step
	}
	if out.Symbol == "" {
		out.Symbol = symbol
	}
	if len(path) > 0 {
		out.Path = append(append([]string{}, path...), be.Path...)
	}
	return &out
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Code, true
	}
	return "", false
}
