package types

import (
	"strings"
	"time"
)

type Stage string

const (
	StageCollectingDetails    Stage = "collecting_details"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageResolving            Stage = "resolving"
	StageAdvancing            Stage = "advancing"
	StageCompleted            Stage = "completed"
	StageCancelled            Stage = "cancelled"
)

// stageEdges lists every transition the conversation allows, except the
// any -> cancelled edge which is checked separately.
var stageEdges = map[Stage][]Stage{
	StageCollectingDetails:    {StageAwaitingConfirmation},
	StageAwaitingConfirmation: {StageCollectingDetails, StageResolving},
	StageResolving:            {StageAdvancing},
	StageAdvancing:            {StageCollectingDetails, StageCompleted},
}

// IsTerminal reports whether no transition may leave the stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// CanTransition reports whether from -> to is an edge of the stage graph.
func CanTransition(from, to Stage) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StageCancelled {
		return true
	}
	for _, next := range stageEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeMatched              Outcome = "matched"
	OutcomeNoMatches            Outcome = "no_matches"
	OutcomeRetrievalUnavailable Outcome = "retrieval_unavailable"
)

// Notice tells the caller about a condition that was recovered locally.
type Notice string

const (
	NoticeNone                  Notice = ""
	NoticeClarify               Notice = "clarify"
	NoticeExtractionUnavailable Notice = "extraction_unavailable"
	NoticeNoMatches             Notice = "no_matches"
	NoticeRetrievalUnavailable  Notice = "retrieval_unavailable"
	NoticeForcedAdvance         Notice = "forced_advance"
	NoticeSessionCancelled      Notice = "session_cancelled"
)

// Anchor is the geographic context of a session.
type Anchor struct {
	Address   string   `json:"address,omitempty"`
	District  string   `json:"district,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// DistrictFromAddress returns the first "...구" token of a Korean address.
func DistrictFromAddress(address string) string {
	for _, part := range strings.Fields(address) {
		if strings.HasSuffix(part, "구") && len([]rune(part)) > 1 {
			return part
		}
	}
	return ""
}

// Normalized fills District from Address when missing.
func (a Anchor) Normalized() Anchor {
	a.Address = strings.TrimSpace(a.Address)
	a.District = strings.TrimSpace(a.District)
	if a.District == "" {
		a.District = DistrictFromAddress(a.Address)
	}
	return a
}

type CategoryTarget struct {
	Category   string      `json:"category"`
	Tags       []string    `json:"tags"`
	AnyChoice  bool        `json:"any_choice,omitempty"`
	Turns      int         `json:"turns"`
	Resolved   bool        `json:"resolved"`
	Forced     bool        `json:"forced,omitempty"`
	Outcome    Outcome     `json:"outcome,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// AddTags merges tags into the target, collapsing duplicates case-insensitively.
// It returns how many tags were new. Tags are never removed.
func (t *CategoryTarget) AddTags(tags ...string) int {
	seen := make(map[string]struct{}, len(t.Tags)+len(tags))
	for _, tag := range t.Tags {
		seen[strings.ToLower(tag)] = struct{}{}
	}
	added := 0
	for _, tag := range tags {
		key := strings.ToLower(strings.TrimSpace(tag))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		t.Tags = append(t.Tags, key)
		added++
	}
	return added
}

// Turn is one utterance/response pair. History is append-only.
type Turn struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Stage     Stage     `json:"stage"`
	Utterance string    `json:"utterance"`
	Response  string    `json:"response"`
	At        time.Time `json:"at"`
}

type StageTransition struct {
	From        Stage     `json:"from"`
	To          Stage     `json:"to"`
	TargetIndex int       `json:"target_index"`
	At          time.Time `json:"at"`
}

type Session struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	PartySize      int               `json:"party_size"`
	Anchor         Anchor            `json:"anchor"`
	ExcludeSeen    bool              `json:"exclude_seen"`
	Targets        []CategoryTarget  `json:"targets"`
	CurrentIndex   int               `json:"current_index"`
	Stage          Stage             `json:"stage"`
	StageHistory   []StageTransition `json:"stage_history"`
	History        []Turn            `json:"history"`
	Surfaced       []string          `json:"surfaced,omitempty"`
	CancelReason   string            `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

// ActiveTarget returns the target at the current index.
func (s *Session) ActiveTarget() *CategoryTarget {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Targets) {
		return nil
	}
	return &s.Targets[s.CurrentIndex]
}

// Expired reports whether the session has been idle past the timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.LastActivityAt) > timeout
}

// SurfacedSet returns the ids already shown to the user in this session.
func (s *Session) SurfacedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Surfaced))
	for _, id := range s.Surfaced {
		set[id] = struct{}{}
	}
	return set
}

// MarkSurfaced records candidate ids in order of first appearance.
func (s *Session) MarkSurfaced(candidates []Candidate) {
	set := s.SurfacedSet()
	for _, c := range candidates {
		if _, ok := set[c.ID]; ok {
			continue
		}
		set[c.ID] = struct{}{}
		s.Surfaced = append(s.Surfaced, c.ID)
	}
}

// Clone returns a deep copy so callers can mutate it without sharing state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Targets = make([]CategoryTarget, len(s.Targets))
	for i, t := range s.Targets {
		t.Tags = append([]string(nil), t.Tags...)
		t.Candidates = append([]Candidate(nil), t.Candidates...)
		c.Targets[i] = t
	}
	c.StageHistory = append([]StageTransition(nil), s.StageHistory...)
	c.History = append([]Turn(nil), s.History...)
	c.Surfaced = append([]string(nil), s.Surfaced...)
	if s.Anchor.Latitude != nil {
		lat := *s.Anchor.Latitude
		c.Anchor.Latitude = &lat
	}
	if s.Anchor.Longitude != nil {
		lon := *s.Anchor.Longitude
		c.Anchor.Longitude = &lon
	}
	return &c
}

// CategoryResult is the resolved recommendation list for one target.
type CategoryResult struct {
	Category   string      `json:"category"`
	Tags       []string    `json:"tags"`
	Outcome    Outcome     `json:"outcome"`
	Candidates []Candidate `json:"candidates"`
}

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}
