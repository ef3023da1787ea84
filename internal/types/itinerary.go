package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TransportMode string

const (
	TransportWalk    TransportMode = "walk"
	TransportTransit TransportMode = "transit"
	TransportDrive   TransportMode = "drive"
)

// ParseTransportMode accepts the mode names and the numeric codes 0 (walk),
// 1 (transit) and 2 (drive) used by mobile clients.
func ParseTransportMode(s string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "walk", "walking", "0":
		return TransportWalk, nil
	case "transit", "public", "1":
		return TransportTransit, nil
	case "drive", "car", "2":
		return TransportDrive, nil
	}
	return "", fmt.Errorf("unknown transport mode %q", s)
}

func (m TransportMode) Valid() bool {
	return m == TransportWalk || m == TransportTransit || m == TransportDrive
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type ItineraryEntry struct {
	TargetIndex     int           `json:"target_index"`
	Category        string        `json:"category"`
	CandidateID     string        `json:"candidate_id"`
	Title           string        `json:"title"`
	DurationMinutes int           `json:"duration_minutes"`
	Mode            TransportMode `json:"mode"`
	TransitMinutes  int           `json:"transit_minutes"`
	Approximate     bool          `json:"approximate,omitempty"`
	Start           time.Time     `json:"start"`
	End             time.Time     `json:"end"`
}

// Itinerary is an ordered, timed day plan. It cannot be changed after
// construction; recompute by compiling again.
type Itinerary struct {
	id            uuid.UUID
	sessionID     string
	userID        string
	start         time.Time
	startLocation Location
	entries       []ItineraryEntry
	approximate   bool
}

func NewItinerary(sessionID, userID string, start time.Time, startLocation Location, entries []ItineraryEntry) Itinerary {
	approximate := false
	for _, e := range entries {
		approximate = approximate || e.Approximate
	}
	return Itinerary{
		id:            uuid.New(),
		sessionID:     sessionID,
		userID:        userID,
		start:         start,
		startLocation: startLocation,
		entries:       append([]ItineraryEntry(nil), entries...),
		approximate:   approximate,
	}
}

func (it Itinerary) ID() uuid.UUID { return it.id }
func (it Itinerary) SessionID() string { return it.sessionID }
func (it Itinerary) UserID() string { return it.userID }
func (it Itinerary) Start() time.Time { return it.start }
func (it Itinerary) StartLocation() Location { return it.startLocation }
func (it Itinerary) Approximate() bool { return it.approximate }
func (it Itinerary) Len() int { return len(it.entries) }
func (it Itinerary) Entry(i int) ItineraryEntry { return it.entries[i] }

// Entries returns a copy of the entries.
func (it Itinerary) Entries() []ItineraryEntry {
	return append([]ItineraryEntry(nil), it.entries...)
}

// End is the end time of the last stop, or the start time when empty.
func (it Itinerary) End() time.Time {
	if len(it.entries) == 0 {
		return it.start
	}
	return it.entries[len(it.entries)-1].End
}

type itineraryJSON struct {
	ID            uuid.UUID        `json:"id"`
	SessionID     string           `json:"session_id"`
	UserID        string           `json:"user_id"`
	Start         time.Time        `json:"start"`
	End           time.Time        `json:"end"`
	StartLocation Location         `json:"start_location"`
	Approximate   bool             `json:"approximate"`
	Entries       []ItineraryEntry `json:"entries"`
}

func (it Itinerary) MarshalJSON() ([]byte, error) {
	entries := it.entries
	if entries == nil {
		entries = []ItineraryEntry{}
	}
	return json.Marshal(itineraryJSON{
		ID:            it.id,
		SessionID:     it.sessionID,
		UserID:        it.userID,
		Start:         it.start,
		End:           it.End(),
		StartLocation: it.startLocation,
		Approximate:   it.approximate,
		Entries:       entries,
	})
}

// PlanRecord is the immutable hand-off to the persistence collaborator.
type PlanRecord struct {
	Itinerary Itinerary
	Targets   []CategoryTarget
	PartySize int
	Anchor    Anchor
}

// SavedPlan is a persisted plan as listed back to its owner.
type SavedPlan struct {
	ID             uuid.UUID        `json:"id"`
	SessionID      string           `json:"session_id"`
	CategoriesName string           `json:"categories_name"`
	StartsAt       time.Time        `json:"starts_at"`
	EndsAt         time.Time        `json:"ends_at"`
	Approximate    bool             `json:"approximate"`
	Stops          []ItineraryEntry `json:"stops"`
	CreatedAt      time.Time        `json:"created_at"`
}
