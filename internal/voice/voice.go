// Package voice holds the per-engine voice catalogs and assigns voices to speakers.
package voice

import (
	"sort"
	"strings"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/script"
)

// GenderNeutral marks a tag or voice without a gender; neutral tags may take any voice.
const GenderNeutral = "NEUTRAL"

// Profile is one selectable voice.
type Profile struct {
	ID         string `json:"id"`
	Gender     string `json:"gender"`
	PitchClass int    `json:"pitch_class"`
	StyleClass string `json:"style_class,omitempty"`

	// EngineHint names the engine whose catalog the profile came from.
	EngineHint string `json:"engine_hint,omitempty"`
}

// Catalog maps an engine name to its voices.
type Catalog map[string][]Profile

// CatalogFromConfig builds the catalog from the voices section of the config.
func CatalogFromConfig(entries map[string][]config.VoiceEntry) Catalog {
	c := make(Catalog, len(entries))
	for engine, list := range entries {
		for _, e := range list {
			c[engine] = append(c[engine], Profile{
				ID:         e.ID,
				Gender:     strings.ToUpper(e.Gender),
				PitchClass: e.PitchClass,
				StyleClass: e.StyleClass,
				EngineHint: engine,
			})
		}
	}
	return c
}

// For returns the voices of one engine sorted by id.
func (c Catalog) For(engine string) []Profile {
	out := append([]Profile(nil), c[engine]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Diversity holds the allocation rules.
type Diversity struct {
	MinVoiceDifference    int
	AvoidSimilarPitch     bool
	PreferDifferentStyles bool
}

// DiversityFromConfig converts the config section.
func DiversityFromConfig(cfg config.DiversityConfig) Diversity {
	return Diversity{
		MinVoiceDifference:    cfg.MinVoiceDifference,
		AvoidSimilarPitch:     cfg.AvoidSimilarPitch,
		PreferDifferentStyles: cfg.PreferDifferentStyles,
	}
}

// Assignment maps speaker tags to voices. It is built once per job and never mutated.
type Assignment struct {
	voices map[string]Profile
}

// Voice returns the profile assigned to a tag name.
func (a Assignment) Voice(tag string) (Profile, bool) {
	p, ok := a.voices[tag]
	return p, ok
}

// Tags returns the assigned tag names in sorted order.
func (a Assignment) Tags() []string {
	tags := make([]string, 0, len(a.voices))
	for t := range a.voices {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Len returns the number of assigned tags.
func (a Assignment) Len() int { return len(a.voices) }

// NewAssignment builds an assignment from an explicit mapping.
func NewAssignment(m map[string]Profile) Assignment {
	voices := make(map[string]Profile, len(m))
	for k, v := range m {
		voices[k] = v
	}
	return Assignment{voices: voices}
}

// Allocate assigns a voice to every tag.
//
// Tags are grouped by gender and processed in name order. Within a group a
// voice must differ in pitch class from every voice already in the group by at
// least MinVoiceDifference; unused voices are taken first and a voice is only
// reused once every same-gender voice is in use. Remaining ties are broken by
// AvoidSimilarPitch, then PreferDifferentStyles, then lowest id.
func Allocate(tags []script.Tag, catalog []Profile, div Diversity) (Assignment, error) {
	sorted := append([]script.Tag(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	voices := append([]Profile(nil), catalog...)
	sort.Slice(voices, func(i, j int) bool { return voices[i].ID < voices[j].ID })

	a := allocator{
		div:    div,
		voices: voices,
		used:   make(map[string]int),
		groups: make(map[string][]Profile),
		out:    make(map[string]Profile, len(sorted)),
	}
	for _, tag := range sorted {
		if _, done := a.out[tag.Name]; done {
			continue
		}
		if err := a.assign(tag); err != nil {
			return Assignment{}, err
		}
	}
	return Assignment{voices: a.out}, nil
}

type allocator struct {
	div    Diversity
	voices []Profile
	used   map[string]int       // voice id -> tags using it
	groups map[string][]Profile // gender -> voices assigned in that group
	out    map[string]Profile
}

func (a *allocator) assign(tag script.Tag) error {
	gender := strings.ToUpper(tag.Gender)

	var candidates []Profile
	for _, v := range a.voices {
		if gender == GenderNeutral || v.Gender == gender {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return &InsufficientVoiceDiversityError{Gender: gender, Tag: tag.Name, Constraint: "no voice of this gender in catalog"}
	}

	group := a.groups[gender]

	var unused, eligible []Profile
	for _, v := range candidates {
		if a.used[v.ID] > 0 {
			continue
		}
		unused = append(unused, v)
		if a.farEnough(v, group) {
			eligible = append(eligible, v)
		}
	}

	var pick Profile
	switch {
	case len(eligible) > 0:
		pick = a.prefer(eligible, group)
	case len(unused) > 0:
		return &InsufficientVoiceDiversityError{Gender: gender, Tag: tag.Name, Constraint: "min_voice_difference"}
	default:
		// Every same-gender voice is taken: share the least used one.
		pick = candidates[0]
		for _, v := range candidates[1:] {
			if a.used[v.ID] < a.used[pick.ID] {
				pick = v
			}
		}
	}

	a.used[pick.ID]++
	a.groups[gender] = append(group, pick)
	a.out[tag.Name] = pick
	return nil
}

func (a *allocator) farEnough(v Profile, group []Profile) bool {
	for _, g := range group {
		if abs(v.PitchClass-g.PitchClass) < a.div.MinVoiceDifference {
			return false
		}
	}
	return true
}

// prefer applies the soft preferences to a non-empty, id-sorted candidate list.
func (a *allocator) prefer(candidates []Profile, group []Profile) Profile {
	if a.div.AvoidSimilarPitch {
		var distinct []Profile
		for _, v := range candidates {
			if !hasPitch(group, v.PitchClass) {
				distinct = append(distinct, v)
			}
		}
		if len(distinct) > 0 {
			candidates = distinct
		}
	}

	if a.div.PreferDifferentStyles {
		best, bestShared := candidates[0], -1
		for _, v := range candidates {
			shared := 0
			for _, assigned := range a.out {
				if assigned.StyleClass == v.StyleClass {
					shared++
				}
			}
			if bestShared < 0 || shared < bestShared {
				best, bestShared = v, shared
			}
		}
		return best
	}

	return candidates[0]
}

func hasPitch(group []Profile, pitch int) bool {
	for _, g := range group {
		if g.PitchClass == pitch {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
