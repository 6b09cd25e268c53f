package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLayout   Phase = "layout"   // ABI layout computation
	PhaseLift     Phase = "lift"     // ABI to script value
	PhaseLower    Phase = "lower"    // script value to ABI
	PhaseDispatch Phase = "dispatch" // bridge generation and call dispatch
	PhaseEval     Phase = "eval"     // script compilation and evaluation
	PhaseSnapshot Phase = "snapshot" // snapshot build and restore
	PhaseAssemble Phase = "assemble" // artifact encoding
	PhaseWorld    Phase = "world"    // world loading and selection
	PhaseConfig   Phase = "config"   // build configuration
	PhaseRuntime  Phase = "runtime"  // driver operations
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch        Kind = "type_mismatch"
	KindInvalidUTF8         Kind = "invalid_utf8"
	KindInvalidChar         Kind = "invalid_char"
	KindInvalidDiscriminant Kind = "invalid_discriminant"
	KindInvalidVariantTag   Kind = "invalid_variant_tag"
	KindMissingField        Kind = "missing_field"
	KindMissingExport       Kind = "missing_export_function"
	KindScriptEvaluation    Kind = "script_evaluation_error"
	KindNondeterminism      Kind = "snapshot_nondeterminism"
	KindAllocatorFailure    Kind = "allocator_failure"

	// Kinds outside the marshaling taxonomy
	KindUnsupported   Kind = "unsupported"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindInvalidWorld  Kind = "invalid_world"
	KindInvalidImage  Kind = "invalid_image"
	KindInvalidConfig Kind = "invalid_config"
	KindNotFound      Kind = "not_found"
	KindReentrant     Kind = "reentrant_call"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value      any
	Cause      error
	Phase      Phase
	Kind       Kind
	ScriptType string
	WitType    string
	Detail     string
	Path       []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.ScriptType != "" || e.WitType != "" {
		b.WriteString(": ")
		if e.ScriptType != "" && e.WitType != "" {
			b.WriteString("script type ")
			b.WriteString(e.ScriptType)
			b.WriteString(", WIT type ")
			b.WriteString(e.WitType)
		} else if e.ScriptType != "" {
			b.WriteString("script type ")
			b.WriteString(e.ScriptType)
		} else {
			b.WriteString("WIT type ")
			b.WriteString(e.WitType)
		}
	}

	if e.Detail != "" {
		if e.ScriptType != "" || e.WitType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// ScriptType sets the script-side type name
func (b *Builder) ScriptType(t string) *Builder {
	b.err.ScriptType = t
	return b
}

// WitType sets the WIT type name
func (b *Builder) WitType(t string) *Builder {
	b.err.WitType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, scriptType, witType string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindTypeMismatch,
		Path:       path,
		ScriptType: scriptType,
		WitType:    witType,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// InvalidChar creates an invalid Unicode scalar error
func InvalidChar(phase Phase, path []string, code uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidChar,
		Path:   path,
		Detail: fmt.Sprintf("0x%X is not a Unicode scalar value", code),
		Value:  code,
	}
}

// InvalidDiscriminant creates an invalid discriminant error for variants/enums
func InvalidDiscriminant(phase Phase, path []string, disc uint32, caseCount uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidDiscriminant,
		Path:   path,
		Detail: fmt.Sprintf("discriminant %d out of range (%d cases)", disc, caseCount),
		Value:  disc,
	}
}

// InvalidVariantTag creates an unknown variant tag error
func InvalidVariantTag(phase Phase, path []string, tag any, witType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindInvalidVariantTag,
		Path:    path,
		WitType: witType,
		Detail:  fmt.Sprintf("tag %v matches no declared case", tag),
		Value:   tag,
	}
}

// MissingField creates a missing record field error
func MissingField(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMissingField,
		Path:   path,
		Detail: fmt.Sprintf("required field %q not found", fieldName),
	}
}

// MissingExport creates a build-time missing export function error
func MissingExport(witName, scriptName string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("export %q has no script function %q", witName, scriptName),
	}
}

// ScriptEvaluation wraps a parse or top-level evaluation failure.
// The interpreter's message is carried verbatim in detail.
func ScriptEvaluation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseEval,
		Kind:   KindScriptEvaluation,
		Detail: detail,
		Cause:  cause,
	}
}

// Nondeterminism creates a snapshot consistency check failure
func Nondeterminism(detail string) *Error {
	return &Error{
		Phase:  PhaseSnapshot,
		Kind:   KindNondeterminism,
		Detail: detail,
	}
}

// AllocationFailed creates an allocator failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocatorFailure,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// MemoryAccess creates an out of bounds memory access error
func MemoryAccess(phase Phase, path []string, addr, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("memory access at 0x%x (%d bytes) out of bounds", addr, size),
	}
}

// InvalidWorld creates a world loading or selection error
func InvalidWorld(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseWorld,
		Kind:   KindInvalidWorld,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// InvalidImage creates a snapshot image integrity error
func InvalidImage(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseSnapshot,
		Kind:   KindInvalidImage,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// InvalidConfig creates a build configuration error
func InvalidConfig(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidConfig,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Reentrant creates an error for a top-level call made while another is in flight
func Reentrant(name string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindReentrant,
		Detail: fmt.Sprintf("call %q rejected: another top-level call is in flight", name),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
