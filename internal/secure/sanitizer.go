package secure

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrUnsafeInput indicates text refused before reaching the AI client.
// The matched detail is logged, never echoed back to the caller.
var ErrUnsafeInput = errors.New("secure: unsafe input")

const maxAITextLen = 8192

// Sanitizer screens text entering the AI capability and filters text
// coming back. Stateless; patterns are compiled once, safe for
// concurrent use from every scope.
type Sanitizer struct {
	unsafe *regexp.Regexp
	strip  *regexp.Regexp
}

var (
	// Prompt-injection and markup smuggling attempts in user text.
	unsafeInputPattern = regexp.MustCompile(`(?is)` +
		`ignore\s+(all\s+|any\s+)?(previous|prior|above)\s+instructions` +
		`|disregard\s+(all\s+|any\s+)?(previous|prior|above)` +
		`|you\s+are\s+now\s+(a|an|the)\s` +
		`|<\s*script\b` +
		`|<\s*/?\s*system\s*>` +
		`|\x00`)

	// Reasoning/tool markup a model may leak into its answer.
	strippedOutputPattern = regexp.MustCompile(`(?is)` +
		`<\s*think\s*>.*?<\s*/\s*think\s*>` +
		`|<\s*(thought|reasoning|reflection)\s*>.*?<\s*/\s*(thought|reasoning|reflection)\s*>` +
		`|<\s*/?\s*system\s*>`)
)

// NewSanitizer compiles the screening patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		unsafe: unsafeInputPattern,
		strip:  strippedOutputPattern,
	}
}

// CleanInput normalizes text headed for the AI client. Injection-shaped
// content returns ErrUnsafeInput with the matched fragment in the error
// detail for the audit trail.
func (s *Sanitizer) CleanInput(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("secure: empty input")
	}
	text = truncateRunes(text, maxAITextLen)
	if match := s.unsafe.FindString(text); match != "" {
		return "", fmt.Errorf("%w: matched %q", ErrUnsafeInput, match)
	}
	return text, nil
}

// FilterOutput strips leaked reasoning markup and trims the result.
func (s *Sanitizer) FilterOutput(text string) string {
	text = s.strip.ReplaceAllString(text, "")
	text = truncateRunes(text, maxAITextLen)
	return strings.TrimSpace(text)
}

// truncateRunes caps text at max bytes, backing up so a multi-byte rune
// is never split.
func truncateRunes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
