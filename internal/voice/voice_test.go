package voice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/script"
	"github.com/nadzzz/dialogcast/internal/voice"
)

func tag(name, gender string) script.Tag {
	return script.Tag{Name: name, Gender: gender}
}

func TestAllocate_OneVoicePerGender(t *testing.T) {
	catalog := []voice.Profile{
		{ID: "m1", Gender: "MALE", PitchClass: 2},
		{ID: "f1", Gender: "FEMALE", PitchClass: 5},
	}
	a, err := voice.Allocate(
		[]script.Tag{tag("HOST_MALE", "MALE"), tag("HOST_FEMALE", "FEMALE")},
		catalog,
		voice.Diversity{MinVoiceDifference: 1, AvoidSimilarPitch: true, PreferDifferentStyles: true},
	)
	require.NoError(t, err)

	m, ok := a.Voice("HOST_MALE")
	require.True(t, ok)
	assert.Equal(t, "m1", m.ID)
	f, ok := a.Voice("HOST_FEMALE")
	require.True(t, ok)
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, 2, a.Len())
}

func TestAllocate_Deterministic(t *testing.T) {
	catalog := []voice.Profile{
		{ID: "m3", Gender: "MALE", PitchClass: 1, StyleClass: "warm"},
		{ID: "m1", Gender: "MALE", PitchClass: 4, StyleClass: "calm"},
		{ID: "m2", Gender: "MALE", PitchClass: 7, StyleClass: "warm"},
		{ID: "f1", Gender: "FEMALE", PitchClass: 3, StyleClass: "bright"},
		{ID: "f2", Gender: "FEMALE", PitchClass: 6, StyleClass: "calm"},
	}
	tags := []script.Tag{
		tag("GUEST_MALE", "MALE"),
		tag("HOST_FEMALE", "FEMALE"),
		tag("HOST_MALE", "MALE"),
		tag("EXPERT_FEMALE", "FEMALE"),
	}
	div := voice.Diversity{MinVoiceDifference: 2, AvoidSimilarPitch: true, PreferDifferentStyles: true}

	first, err := voice.Allocate(tags, catalog, div)
	require.NoError(t, err)

	// Same input in another order must give the same mapping.
	reversed := []script.Tag{tags[3], tags[2], tags[1], tags[0]}
	shuffledCatalog := []voice.Profile{catalog[4], catalog[2], catalog[0], catalog[3], catalog[1]}
	for i := 0; i < 5; i++ {
		again, err := voice.Allocate(reversed, shuffledCatalog, div)
		require.NoError(t, err)
		for _, name := range first.Tags() {
			want, _ := first.Voice(name)
			got, _ := again.Voice(name)
			assert.Equal(t, want, got, name)
		}
	}

	// EXPERT_FEMALE sorts first and takes the lowest id; GUEST_MALE likewise.
	v, _ := first.Voice("EXPERT_FEMALE")
	assert.Equal(t, "f1", v.ID)
	v, _ = first.Voice("GUEST_MALE")
	assert.Equal(t, "m1", v.ID)
}

func TestAllocate_PrefersDifferentStyles(t *testing.T) {
	catalog := []voice.Profile{
		{ID: "a", Gender: "MALE", PitchClass: 1, StyleClass: "warm"},
		{ID: "b", Gender: "MALE", PitchClass: 3, StyleClass: "warm"},
		{ID: "c", Gender: "MALE", PitchClass: 5, StyleClass: "crisp"},
	}
	a, err := voice.Allocate(
		[]script.Tag{tag("A_MALE", "MALE"), tag("B_MALE", "MALE")},
		catalog,
		voice.Diversity{MinVoiceDifference: 1, PreferDifferentStyles: true},
	)
	require.NoError(t, err)

	v, _ := a.Voice("A_MALE")
	assert.Equal(t, "a", v.ID)
	v, _ = a.Voice("B_MALE")
	assert.Equal(t, "c", v.ID, "second voice should avoid the warm style already in use")
}

func TestAllocate_ReusesWhenExhausted(t *testing.T) {
	catalog := []voice.Profile{{ID: "m1", Gender: "MALE", PitchClass: 2}}
	a, err := voice.Allocate(
		[]script.Tag{tag("HOST_MALE", "MALE"), tag("GUEST_MALE", "MALE")},
		catalog,
		voice.Diversity{MinVoiceDifference: 1},
	)
	require.NoError(t, err)

	g, _ := a.Voice("GUEST_MALE")
	h, _ := a.Voice("HOST_MALE")
	assert.Equal(t, "m1", g.ID)
	assert.Equal(t, "m1", h.ID)
}

func TestAllocate_InsufficientDiversity(t *testing.T) {
	t.Run("pitch too close", func(t *testing.T) {
		catalog := []voice.Profile{
			{ID: "m1", Gender: "MALE", PitchClass: 2},
			{ID: "m2", Gender: "MALE", PitchClass: 3},
		}
		_, err := voice.Allocate(
			[]script.Tag{tag("HOST_MALE", "MALE"), tag("GUEST_MALE", "MALE")},
			catalog,
			voice.Diversity{MinVoiceDifference: 3},
		)
		var ie *voice.InsufficientVoiceDiversityError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "MALE", ie.Gender)
		assert.Equal(t, "min_voice_difference", ie.Constraint)
		assert.ErrorIs(t, err, voice.ErrAllocation)
	})

	t.Run("no voice of gender", func(t *testing.T) {
		catalog := []voice.Profile{{ID: "m1", Gender: "MALE"}}
		_, err := voice.Allocate([]script.Tag{tag("HOST_FEMALE", "FEMALE")}, catalog, voice.Diversity{})
		var ie *voice.InsufficientVoiceDiversityError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "HOST_FEMALE", ie.Tag)
	})
}

func TestAllocate_NeutralTakesAnyVoice(t *testing.T) {
	catalog := []voice.Profile{{ID: "f1", Gender: "FEMALE", PitchClass: 4}}
	a, err := voice.Allocate([]script.Tag{tag("NARRATOR_NEUTRAL", voice.GenderNeutral)}, catalog, voice.Diversity{})
	require.NoError(t, err)
	v, _ := a.Voice("NARRATOR_NEUTRAL")
	assert.Equal(t, "f1", v.ID)
}

func TestCatalogFromConfig(t *testing.T) {
	c := voice.CatalogFromConfig(map[string][]config.VoiceEntry{
		"piper": {
			{ID: "en_US-ryan-medium", Gender: "male", PitchClass: 3, StyleClass: "neutral"},
			{ID: "en_US-amy-medium", Gender: "female", PitchClass: 6},
		},
	})

	voices := c.For("piper")
	require.Len(t, voices, 2)
	assert.Equal(t, "en_US-amy-medium", voices[0].ID)
	assert.Equal(t, "FEMALE", voices[0].Gender)
	assert.Equal(t, "piper", voices[1].EngineHint)
	assert.Empty(t, c.For("coqui"))
}

func TestCheckAlternation(t *testing.T) {
	seg := func(i int, name, gender string) script.Segment {
		return script.Segment{Index: i, Speaker: tag(name, gender)}
	}

	t.Run("alternating", func(t *testing.T) {
		got := voice.CheckAlternation([]script.Segment{
			seg(0, "HOST_MALE", "MALE"),
			seg(1, "HOST_FEMALE", "FEMALE"),
			seg(2, "HOST_FEMALE", "FEMALE"),
			seg(3, "GUEST_MALE", "MALE"),
		})
		assert.Empty(t, got)
	})

	t.Run("violation", func(t *testing.T) {
		got := voice.CheckAlternation([]script.Segment{
			seg(0, "HOST_MALE", "MALE"),
			seg(1, "GUEST_MALE", "MALE"),
			seg(2, "HOST_FEMALE", "FEMALE"),
		})
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].SegmentIndex)
		assert.Equal(t, "HOST_MALE", got[0].Previous)
		assert.Equal(t, "GUEST_MALE", got[0].Next)
	})

	t.Run("single gender", func(t *testing.T) {
		got := voice.CheckAlternation([]script.Segment{
			seg(0, "HOST_MALE", "MALE"),
			seg(1, "GUEST_MALE", "MALE"),
		})
		assert.Empty(t, got)
	})
}
