package runner

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxInputSize bounds a single human message (16KB).
	DefaultMaxInputSize = 16 * 1024
	// EnvMaxInputSize is the environment variable to override the default.
	EnvMaxInputSize = "ARBOR_MAX_INPUT_SIZE"
)

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// SanitizeInput cleans human input before it enters a thread: it enforces the size limit,
// validates UTF-8, strips control characters other than newline, tab and carriage return,
// and trims surrounding whitespace.
func SanitizeInput(input string) (string, error) {
	limit := maxInputSize()
	if len(input) > limit {
		// Rejected rather than truncated so the checkpointed value is what the human sent.
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	clean := strings.IndexFunc(input, func(r rune) bool {
		return unicode.IsControl(r) && !isSafeControl(r)
	}) < 0
	if clean {
		return strings.TrimSpace(input), nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func maxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}
