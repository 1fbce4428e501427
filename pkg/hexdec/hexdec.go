// Package hexdec rewrites hexadecimal tokens in text dumps (readelf, nm,
// objdump headers) as right-aligned decimal numbers.
package hexdec

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/sizemap/pkg/errors"
)

// tokenPattern matches a word of at least two hex digits with an optional 0x prefix.
var tokenPattern = regexp.MustCompile(`\b(0x)?([0-9a-fA-F]{2,})\b`)

// maxBits bounds the values Line accepts.
const maxBits = 128

// Line converts every hex token in line to decimal, padded on the left to the
// width of the token it replaces. A value that does not fit in 128 bits is an
// error unless skipErrors is set, in which case the token is kept as is.
func Line(line string, skipErrors bool) (string, error) {
	matches := tokenPattern.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return line, nil
	}

	var sb strings.Builder
	sb.Grow(len(line) + 8)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		digits := line[m[4]:m[5]]

		sb.WriteString(line[last:start])
		dec, err := toDecimal(digits)
		switch {
		case err == nil:
			fmt.Fprintf(&sb, "%*s", end-start, dec)
		case skipErrors:
			sb.WriteString(line[start:end])
		default:
			return "", apperrors.Wrap(apperrors.CodeHexParseError,
				fmt.Sprintf("token %q at column %d", line[start:end], start+1), err)
		}
		last = end
	}
	sb.WriteString(line[last:])
	return sb.String(), nil
}

func toDecimal(digits string) (string, error) {
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return "", fmt.Errorf("invalid hex digits %q", digits)
	}
	if v.BitLen() > maxBits {
		return "", fmt.Errorf("value exceeds %d bits", maxBits)
	}
	return v.String(), nil
}

// ParseHex parses a hex token with an optional 0x prefix into a uint64.
func ParseHex(tok string) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	if s == "" {
		return 0, apperrors.Newf(apperrors.CodeHexParseError, "empty hex token %q", tok)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeHexParseError, fmt.Sprintf("token %q", tok), err)
	}
	return v, nil
}

// Options controls Filter.
type Options struct {
	// SkipErrors leaves unparsable tokens in place. It takes precedence over StopOnError.
	SkipErrors bool
	// StopOnError makes the first failing line end the stream with an error.
	StopOnError bool
	// BreakOnBlank stops at the first empty line.
	BreakOnBlank bool
}

// LineError reports a line Filter could not convert.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Filter converts r line by line into w. Lines that fail conversion are
// reported to onErr and dropped, or end the stream when StopOnError is set.
func Filter(r io.Reader, w io.Writer, opts Options, onErr func(*LineError)) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	for lineNo := 1; ; lineNo++ {
		raw, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("failed to read input: %w", readErr)
		}
		if raw == "" && readErr == io.EOF {
			return nil
		}

		text := strings.TrimRight(raw, "\r\n")
		if opts.BreakOnBlank && text == "" && raw != "" {
			return nil
		}

		out, err := Line(text, opts.SkipErrors)
		if err != nil {
			lerr := &LineError{Line: lineNo, Err: err}
			if opts.StopOnError {
				return lerr
			}
			if onErr != nil {
				onErr(lerr)
			}
		} else {
			if _, err := bw.WriteString(out); err != nil {
				return err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			return nil
		}
	}
}
