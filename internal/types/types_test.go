package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalCategory(t *testing.T) {
	assert.Equal(t, CategoryCafe, CanonicalCategory(" Café "))
	assert.Equal(t, CategoryRestaurant, CanonicalCategory("음식점"))
	assert.Equal(t, CategoryAttraction, CanonicalCategory("콘텐츠"))
	assert.Equal(t, "bar", CanonicalCategory("Bar"))
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Stage{
		{StageCollectingDetails, StageAwaitingConfirmation},
		{StageAwaitingConfirmation, StageCollectingDetails},
		{StageAwaitingConfirmation, StageResolving},
		{StageResolving, StageAdvancing},
		{StageAdvancing, StageCollectingDetails},
		{StageAdvancing, StageCompleted},
		{StageCollectingDetails, StageCancelled},
		{StageResolving, StageCancelled},
	}
	for _, e := range allowed {
		assert.True(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	rejected := [][2]Stage{
		{StageCollectingDetails, StageResolving},
		{StageResolving, StageCollectingDetails},
		{StageAdvancing, StageAwaitingConfirmation},
		{StageCompleted, StageCancelled},
		{StageCancelled, StageCollectingDetails},
		{StageCompleted, StageCollectingDetails},
	}
	for _, e := range rejected {
		assert.False(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}
}

func TestAddTagsNeverShrinks(t *testing.T) {
	target := CategoryTarget{Category: "cafe"}
	assert.Equal(t, 2, target.AddTags("Quiet", "커피"))
	assert.Equal(t, 1, target.AddTags("quiet", " QUIET ", "cozy", ""))
	assert.Equal(t, []string{"quiet", "커피", "cozy"}, target.Tags)
	assert.Equal(t, 0, target.AddTags())
	assert.Len(t, target.Tags, 3)
}

func TestAnchorNormalized(t *testing.T) {
	a := Anchor{Address: " 서울특별시 강남구 테헤란로 1 "}.Normalized()
	assert.Equal(t, "강남구", a.District)
	assert.Equal(t, "서울특별시 강남구 테헤란로 1", a.Address)

	b := Anchor{Address: "서울 마포구", District: "종로구"}.Normalized()
	assert.Equal(t, "종로구", b.District)

	assert.Equal(t, "", DistrictFromAddress("Seoul"))
}

func TestSessionCloneIsDeep(t *testing.T) {
	lat := 37.5
	s := &Session{
		ID:       "s1",
		Anchor:   Anchor{Latitude: &lat},
		Targets:  []CategoryTarget{{Category: "cafe", Tags: []string{"quiet"}}},
		Surfaced: []string{"p1"},
	}
	c := s.Clone()
	c.Targets[0].AddTags("cozy")
	c.Surfaced = append(c.Surfaced, "p2")
	*c.Anchor.Latitude = 1

	assert.Equal(t, []string{"quiet"}, s.Targets[0].Tags)
	assert.Equal(t, []string{"p1"}, s.Surfaced)
	assert.Equal(t, 37.5, *s.Anchor.Latitude)
}

func TestMarkSurfacedKeepsFirstOrder(t *testing.T) {
	s := &Session{}
	s.MarkSurfaced([]Candidate{{ID: "b"}, {ID: "a"}})
	s.MarkSurfaced([]Candidate{{ID: "a"}, {ID: "c"}})
	assert.Equal(t, []string{"b", "a", "c"}, s.Surfaced)
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{LastActivityAt: now.Add(-31 * time.Minute)}
	assert.True(t, s.Expired(now, 30*time.Minute))
	assert.False(t, s.Expired(now, 0))
	assert.False(t, s.Expired(now, time.Hour))
}

func TestParseTransportMode(t *testing.T) {
	for in, want := range map[string]TransportMode{"0": TransportWalk, "transit": TransportTransit, " CAR ": TransportDrive} {
		got, err := ParseTransportMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTransportMode("teleport")
	assert.Error(t, err)
}

func TestItineraryIsACopy(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entries := []ItineraryEntry{{CandidateID: "p1", Start: start, End: start.Add(time.Hour)}}
	it := NewItinerary("s1", "u1", start, Location{}, entries)

	entries[0].CandidateID = "changed"
	got := it.Entries()
	got[0].CandidateID = "changed again"

	assert.Equal(t, "p1", it.Entry(0).CandidateID)
	assert.Equal(t, start.Add(time.Hour), it.End())
	assert.False(t, it.Approximate())
}
