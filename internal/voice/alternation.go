package voice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nadzzz/dialogcast/internal/script"
)

// Alternation modes.
const (
	AlternationOff    = "off"
	AlternationWarn   = "warn"
	AlternationStrict = "strict"
)

// ErrAllocation is matched by every allocation failure.
var ErrAllocation = errors.New("voice allocation failed")

// InsufficientVoiceDiversityError reports a gender group the catalog cannot satisfy.
type InsufficientVoiceDiversityError struct {
	Gender     string
	Tag        string
	Constraint string
}

func (e *InsufficientVoiceDiversityError) Error() string {
	return fmt.Sprintf("no voice for %s (gender %s) satisfies %s", e.Tag, e.Gender, e.Constraint)
}

func (e *InsufficientVoiceDiversityError) Is(target error) bool { return target == ErrAllocation }

// AlternationViolation reports two consecutive distinct speakers of the same gender.
type AlternationViolation struct {
	SegmentIndex int
	Previous     string
	Next         string
}

func (e *AlternationViolation) Error() string {
	return fmt.Sprintf("segment %d: %s follows %s without alternating gender", e.SegmentIndex, e.Next, e.Previous)
}

func (e *AlternationViolation) Is(target error) bool { return target == ErrAllocation }

// CheckAlternation reports every place where the speaker changes but the
// gender does not. It is a check, not a reordering. Scripts with a single
// gender always pass, and neutral speakers never violate.
func CheckAlternation(segments []script.Segment) []*AlternationViolation {
	genders := make(map[string]bool)
	for _, s := range segments {
		if g := strings.ToUpper(s.Speaker.Gender); g != GenderNeutral {
			genders[g] = true
		}
	}
	if len(genders) < 2 {
		return nil
	}

	var out []*AlternationViolation
	for i := 1; i < len(segments); i++ {
		prev, next := segments[i-1].Speaker, segments[i].Speaker
		if prev.Name == next.Name {
			continue
		}
		pg, ng := strings.ToUpper(prev.Gender), strings.ToUpper(next.Gender)
		if pg == GenderNeutral || ng == GenderNeutral {
			continue
		}
		if pg == ng {
			out = append(out, &AlternationViolation{
				SegmentIndex: segments[i].Index,
				Previous:     prev.Name,
				Next:         next.Name,
			})
		}
	}
	return out
}
