// Package script parses speaker-tagged dialogue text into ordered segments.
//
// A script is line oriented. Each dialogue line names a speaker tag drawn from
// the configured vocabulary (role x gender) in one of three forms:
//
//	HOST_MALE: Welcome to the show.
//	[EXPERT_FEMALE] Thanks for having me.
//	[GUEST_MALE]: {pause=1.5 emotion=excited} Great to be here!
//
// Blank lines and lines starting with "#" or "//" are skipped. The first "#"
// line is taken as the episode title.
package script

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// wordsPerMinute is the speaking rate used to estimate script duration.
const wordsPerMinute = 150

var (
	bracketLine = regexp.MustCompile(`^\[([^\]]+)\]\s*:?\s*(.*)$`)
	colonLine   = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*)\s*:\s*(.*)$`)
	directives  = regexp.MustCompile(`^\{([^}]*)\}\s*(.*)$`)
)

// Tag identifies a speaker, e.g. HOST_FEMALE.
type Tag struct {
	Name   string
	Role   string
	Gender string
}

func (t Tag) String() string { return t.Name }

// Segment is one speaker's line of dialogue, the unit of parallel synthesis.
type Segment struct {
	// Index is the zero-based position in the script; the only ordering key downstream.
	Index   int
	Speaker Tag
	Text    string

	// MaxDuration is the longest synthesized duration accepted for this segment.
	MaxDuration time.Duration

	// Line is the 1-based source line, for diagnostics.
	Line int

	// Directives holds the inline {key=value} settings (pause, speed, emotion).
	Directives map[string]string
}

// Pause returns the pause directive, if the segment carries one.
func (s Segment) Pause() (time.Duration, bool) {
	v, ok := s.Directives["pause"]
	if !ok {
		return 0, false
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Script is a parsed dialogue.
type Script struct {
	Title    string
	Segments []Segment

	// Speakers lists the distinct tags in order of first appearance.
	Speakers []Tag

	EstimatedDuration time.Duration
}

// Words returns the total word count across all segments.
func (s *Script) Words() int {
	n := 0
	for _, seg := range s.Segments {
		n += len(strings.Fields(seg.Text))
	}
	return n
}

// Limits bounds what the parser accepts.
type Limits struct {
	MaxCharacters      int           // distinct speaker tags
	MaxTextLength      int           // runes per segment
	MaxSegmentDuration time.Duration // stamped on each segment
	MaxTotalDuration   time.Duration // estimated script duration ceiling
}

// Parser turns raw text into a Script. A Parser is safe for concurrent use.
type Parser struct {
	vocab  map[string]Tag
	limits Limits
}

// NewParser builds a parser whose vocabulary is every ROLE_GENDER pair.
func NewParser(roles, genders []string, limits Limits) *Parser {
	vocab := make(map[string]Tag, len(roles)*len(genders))
	for _, r := range roles {
		for _, g := range genders {
			role, gender := strings.ToUpper(r), strings.ToUpper(g)
			name := role + "_" + gender
			vocab[name] = Tag{Name: name, Role: role, Gender: gender}
		}
	}
	return &Parser{vocab: vocab, limits: limits}
}

// Vocabulary returns the accepted tag names in sorted order.
func (p *Parser) Vocabulary() []string {
	names := make([]string, 0, len(p.vocab))
	for name := range p.vocab {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse validates raw and returns the ordered segments.
// All returned errors satisfy errors.Is(err, ErrParse).
func (p *Parser) Parse(raw string) (*Script, error) {
	sc := &Script{}
	seen := make(map[string]bool)

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lineNo := i + 1
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "//"):
			continue
		case strings.HasPrefix(line, "#"):
			if sc.Title == "" && len(sc.Segments) == 0 {
				sc.Title = strings.TrimSpace(strings.TrimLeft(line, "#"))
			}
			continue
		}

		rawTag, text, ok := splitLine(line)
		if !ok {
			return nil, &ParseError{Line: lineNo, Reason: "expected \"TAG: text\" or \"[TAG] text\""}
		}

		tag, ok := p.vocab[strings.ToUpper(strings.TrimSpace(rawTag))]
		if !ok {
			return nil, &UnknownSpeakerError{Line: lineNo, Tag: rawTag}
		}

		dirs, text, err := parseDirectives(text)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Reason: err.Error()}
		}
		if text == "" {
			return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("empty text for speaker %s", tag.Name)}
		}
		if n := utf8.RuneCountInString(text); p.limits.MaxTextLength > 0 && n > p.limits.MaxTextLength {
			return nil, &SegmentTooLongError{Line: lineNo, Length: n, Limit: p.limits.MaxTextLength}
		}

		if !seen[tag.Name] {
			seen[tag.Name] = true
			sc.Speakers = append(sc.Speakers, tag)
			if p.limits.MaxCharacters > 0 && len(sc.Speakers) > p.limits.MaxCharacters {
				return nil, &TooManySpeakersError{Line: lineNo, Count: len(sc.Speakers), Limit: p.limits.MaxCharacters}
			}
		}

		sc.Segments = append(sc.Segments, Segment{
			Index:       len(sc.Segments),
			Speaker:     tag,
			Text:        text,
			MaxDuration: p.limits.MaxSegmentDuration,
			Line:        lineNo,
			Directives:  dirs,
		})
	}

	if len(sc.Segments) == 0 {
		return nil, ErrEmptyScript
	}

	sc.EstimatedDuration = time.Duration(float64(sc.Words()) / wordsPerMinute * float64(time.Minute))
	if p.limits.MaxTotalDuration > 0 && sc.EstimatedDuration > p.limits.MaxTotalDuration {
		return nil, &ScriptTooLongError{Estimated: sc.EstimatedDuration, Limit: p.limits.MaxTotalDuration}
	}

	return sc, nil
}

func splitLine(line string) (tag, text string, ok bool) {
	if m := bracketLine.FindStringSubmatch(line); m != nil {
		return m[1], strings.TrimSpace(m[2]), true
	}
	if m := colonLine.FindStringSubmatch(line); m != nil {
		return m[1], strings.TrimSpace(m[2]), true
	}
	return "", "", false
}

// parseDirectives strips a leading {key=value ...} block from text.
func parseDirectives(text string) (map[string]string, string, error) {
	m := directives.FindStringSubmatch(text)
	if m == nil {
		if strings.HasPrefix(text, "{") {
			return nil, "", fmt.Errorf("unterminated directive block")
		}
		return nil, text, nil
	}

	dirs := make(map[string]string)
	for _, field := range strings.Fields(m[1]) {
		key, value, found := strings.Cut(field, "=")
		if !found || value == "" {
			return nil, "", fmt.Errorf("malformed directive %q", field)
		}
		key = strings.ToLower(key)
		switch key {
		case "pause":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || f < 0 {
				return nil, "", fmt.Errorf("pause must be a non-negative number of seconds, got %q", value)
			}
		case "speed":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || f <= 0 {
				return nil, "", fmt.Errorf("speed must be a positive number, got %q", value)
			}
		case "emotion":
		default:
			return nil, "", fmt.Errorf("unknown directive %q", key)
		}
		dirs[key] = value
	}
	return dirs, strings.TrimSpace(m[2]), nil
}
