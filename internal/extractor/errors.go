package extractor

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sizemap/pkg/model"

	apperrors "github.com/sizemap/pkg/errors"
)

// FormatError describes why an artifact could not be read.
// Kind is one of apperrors.ErrUnsupportedFormat, ErrTruncated or ErrMalformed,
// so errors.Is(err, apperrors.ErrTruncated) and friends work on it.
type FormatError struct {
	Kind     *apperrors.AppError
	Format   model.Format
	Offset   int64 // -1 when not tied to a position
	Expected string
	Found    string
	Err      error
}

func (e *FormatError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Format.String())
	sb.WriteString(": ")
	sb.WriteString(e.Kind.Message)
	if e.Offset >= 0 {
		fmt.Fprintf(&sb, " at offset %#x", e.Offset)
	}
	if e.Expected != "" || e.Found != "" {
		fmt.Fprintf(&sb, ": expected %s, found %s", e.Expected, e.Found)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func unsupported(format model.Format, expected, found string) *FormatError {
	return &FormatError{Kind: apperrors.ErrUnsupportedFormat, Format: format, Offset: 0, Expected: expected, Found: found}
}

func truncated(format model.Format, off int64, expected, found string) *FormatError {
	return &FormatError{Kind: apperrors.ErrTruncated, Format: format, Offset: off, Expected: expected, Found: found}
}

func malformed(format model.Format, off int64, expected, found string) *FormatError {
	return &FormatError{Kind: apperrors.ErrMalformed, Format: format, Offset: off, Expected: expected, Found: found}
}

// decodeError classifies an error returned by a debug/* decoder.
// Short reads become Truncated, everything else Malformed.
func decodeError(format model.Format, err error) *FormatError {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe
	}
	kind := apperrors.ErrMalformed
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		kind = apperrors.ErrTruncated
	}
	return &FormatError{Kind: kind, Format: format, Offset: -1, Err: err}
}

// shifted returns err with its offset moved by base, for errors raised while
// reading an embedded slice of a larger artifact.
func shifted(err error, base int64) error {
	var fe *FormatError
	if base == 0 || !errors.As(err, &fe) || fe.Offset < 0 {
		return err
	}
	cp := *fe
	cp.Offset += base
	return &cp
}

func byteCount(n uint64) string {
	return fmt.Sprintf("%d bytes", n)
}
