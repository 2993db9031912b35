package script

import (
	"errors"
	"fmt"
	"time"
)

// ErrParse is matched by every error the parser returns.
var ErrParse = errors.New("script rejected")

// ErrEmptyScript is returned when a script has no dialogue lines.
var ErrEmptyScript = fmt.Errorf("%w: script contains no dialogue lines", ErrParse)

// ParseError reports a malformed line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// UnknownSpeakerError reports a tag outside the configured vocabulary.
type UnknownSpeakerError struct {
	Line int
	Tag  string
}

func (e *UnknownSpeakerError) Error() string {
	return fmt.Sprintf("line %d: unknown speaker %q", e.Line, e.Tag)
}

func (e *UnknownSpeakerError) Is(target error) bool { return target == ErrParse }

// SegmentTooLongError reports a line whose text exceeds the per-segment limit.
// Text is never truncated.
type SegmentTooLongError struct {
	Line   int
	Length int
	Limit  int
}

func (e *SegmentTooLongError) Error() string {
	return fmt.Sprintf("line %d: text is %d characters, limit is %d", e.Line, e.Length, e.Limit)
}

func (e *SegmentTooLongError) Is(target error) bool { return target == ErrParse }

// TooManySpeakersError reports more distinct tags than max_characters.
type TooManySpeakersError struct {
	Line  int
	Count int
	Limit int
}

func (e *TooManySpeakersError) Error() string {
	return fmt.Sprintf("line %d: script uses %d distinct speakers, limit is %d", e.Line, e.Count, e.Limit)
}

func (e *TooManySpeakersError) Is(target error) bool { return target == ErrParse }

// ScriptTooLongError reports an estimated duration over the total ceiling.
type ScriptTooLongError struct {
	Estimated time.Duration
	Limit     time.Duration
}

func (e *ScriptTooLongError) Error() string {
	return fmt.Sprintf("estimated duration %s exceeds limit %s", e.Estimated.Round(time.Second), e.Limit)
}

func (e *ScriptTooLongError) Is(target error) bool { return target == ErrParse }
