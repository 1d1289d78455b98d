package pid

import (
	"errors"
	"strconv"
	"strings"
)

// ErrFractionalWithSuffix is returned by ParseBinarySize when the input
// combines a fractional mantissa with a unit suffix (e.g. "1.5MiB"),
// which this parser does not support. A library must not crash its
// caller's process on malformed operator input (such as the argument of
// constellation-recce's size command), so this is a regular error rather
// than a panic.
var ErrFractionalWithSuffix = errors.New("pid: fractional size with unit suffix is not supported")

// ErrInvalidSize is returned for any other malformed input.
var ErrInvalidSize = errors.New("pid: invalid size")

var binarySuffixes = map[string]uint64{
	"B":   1,
	"KiB": 1024,
	"MiB": 1024 * 1024,
	"GiB": 1024 * 1024 * 1024,
	"TiB": 1024 * 1024 * 1024 * 1024,
	"PiB": 1024 * 1024 * 1024 * 1024 * 1024,
	"EiB": 1024 * 1024 * 1024 * 1024 * 1024 * 1024,
}

// ParseBinarySize parses a byte count written with an optional binary-unit
// suffix: "123", "4KiB", "1MiB", "7GiB", and so on up to "EiB". A bare
// integer is interpreted as a byte count. Fractional mantissas are
// accepted only without a suffix, and are truncated to their integer part
// (e.g. "1.5" parses as 1); a fractional mantissa with a suffix is
// rejected by ErrFractionalWithSuffix.
//
// Ported from original_source/constellation-internal/src/ext.rs::parse_binary_size.
func ParseBinarySize(input string) (uint64, error) {
	if input == "" {
		return 0, ErrInvalidSize
	}

	digitEnd := 0
	for digitEnd < len(input) && isASCIIDigit(input[digitEnd]) {
		digitEnd++
	}
	if digitEnd == 0 {
		return 0, ErrInvalidSize
	}
	mantissa, err := strconv.ParseUint(input[:digitEnd], 10, 64)
	if err != nil {
		return 0, ErrInvalidSize
	}
	if digitEnd == len(input) {
		return mantissa, nil
	}

	rest := input[digitEnd:]
	hasFraction := false
	if rest[0] == '.' {
		hasFraction = true
		fracEnd := 1
		for fracEnd < len(rest) && isASCIIDigit(rest[fracEnd]) {
			fracEnd++
		}
		rest = rest[fracEnd:]
	}

	if rest == "" {
		if hasFraction {
			// A bare fractional number with no suffix has no unit to
			// scale it by; the original treats this as a byte count
			// truncated to its integer part via the suffix-less early
			// return, so mirror that rather than inventing new semantics.
			return mantissa, nil
		}
		return mantissa, nil
	}

	suffix := strings.TrimSpace(rest)
	multiplier, ok := binarySuffixes[suffix]
	if !ok {
		return 0, ErrInvalidSize
	}
	if hasFraction {
		return 0, ErrFractionalWithSuffix
	}
	return mantissa * multiplier, nil
}

func isASCIIDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
