// Package structured decodes JSON objects embedded in free-form model output.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ErrNoObject is returned when the text contains no JSON object.
var ErrNoObject = errors.New("no JSON object found")

// Extract returns the first JSON object in text. Markdown code fences are ignored.
func Extract(text string) (string, error) {
	body := strings.TrimSpace(text)
	if i := strings.Index(body, "```"); i >= 0 {
		rest := body[i+3:]
		// Skip the language tag of the fence.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			body = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(body, '{')
	if start < 0 {
		return "", ErrNoObject
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return body[start : i+1], nil
			}
		}
	}
	return "", ErrNoObject
}

// Decode finds the JSON object in text and decodes it into out.
// Field matching is case-insensitive and scalar types are converted loosely
// (a number where a string is expected is accepted).
func Decode(text string, out any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return fmt.Errorf("invalid JSON object: %w", err)
	}
	return DecodeValue(generic, out)
}

// DecodeValue converts a generic value (as found in a State) into out.
func DecodeValue(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}
