package model

import (
	"testing"
	"time"
)

func TestParseReadingState_RoundTrip(t *testing.T) {
	for _, state := range []ReadingState{StateInteresting, StateReading, StateFinished, StateAbandoned} {
		if got := ParseReadingState(state.String()); got != state {
			t.Errorf("ParseReadingState(%q) = %v, want %v", state.String(), got, state)
		}
	}
}

func TestParseReadingState_Unrecognised(t *testing.T) {
	if got := ParseReadingState("paused"); got != StateUnknown {
		t.Errorf("ParseReadingState(paused) = %v, want StateUnknown", got)
	}
	if got := ParseReadingState(""); got != StateUnknown {
		t.Errorf("ParseReadingState(empty) = %v, want StateUnknown", got)
	}
}

func TestReadingState_Closed(t *testing.T) {
	if StateReading.Closed() || StateInteresting.Closed() || StateUnknown.Closed() {
		t.Error("open states must not report Closed")
	}
	if !StateFinished.Closed() || !StateAbandoned.Closed() {
		t.Error("finished and abandoned must report Closed")
	}
}

func TestReading_Connected(t *testing.T) {
	r := &Reading{RemoteReadingID: -1}
	if r.Connected() {
		t.Error("RemoteReadingID -1 must not count as connected")
	}
	r.RemoteReadingID = 0
	if r.Connected() {
		t.Error("RemoteReadingID 0 must not count as connected")
	}
	r.RemoteReadingID = 42
	if !r.Connected() {
		t.Error("RemoteReadingID 42 must count as connected")
	}
}

func TestReading_RemoteChangedFrom(t *testing.T) {
	seen := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	r := &Reading{RemoteTouchedAt: seen}

	if r.RemoteChangedFrom(seen) {
		t.Error("equal touched-at must not read as a remote change")
	}
	// Same instant in another zone still counts as unchanged.
	if r.RemoteChangedFrom(seen.In(time.FixedZone("CET", 3600))) {
		t.Error("same instant in another zone must not read as a remote change")
	}
	if !r.RemoteChangedFrom(seen.Add(time.Second)) {
		t.Error("differing touched-at must read as a remote change")
	}
}

func TestRecalculateFromSessions_SumsDurations(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := &Reading{TotalPages: 400, TimeSpentSeconds: 999}

	r.RecalculateFromSessions([]*Session{
		{DurationSeconds: 600, Progress: 0.10, EndedOnPage: -1, OccurredAt: base},
		{DurationSeconds: 900, Progress: 0.25, EndedOnPage: -1, OccurredAt: base.Add(time.Hour)},
	})

	if r.TimeSpentSeconds != 1500 {
		t.Errorf("TimeSpentSeconds = %d, want 1500", r.TimeSpentSeconds)
	}
	if r.Progress != 0.25 {
		t.Errorf("Progress = %v, want 0.25 (most recent session)", r.Progress)
	}
	if r.CurrentPage != 100 {
		t.Errorf("CurrentPage = %d, want floor(0.25*400) = 100", r.CurrentPage)
	}
}

func TestRecalculateFromSessions_PageTrackedWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := &Reading{TotalPages: 400}

	r.RecalculateFromSessions([]*Session{
		{DurationSeconds: 600, Progress: 0.10, EndedOnPage: -1, OccurredAt: base},
		{DurationSeconds: 900, Progress: 0.30, EndedOnPage: 131, OccurredAt: base.Add(time.Hour)},
	})

	if r.CurrentPage != 131 {
		t.Errorf("CurrentPage = %d, want the most recent session's ended-on-page 131", r.CurrentPage)
	}
}

func TestRecalculateFromSessions_Empty(t *testing.T) {
	r := &Reading{TotalPages: 400, CurrentPage: 55, Progress: 0.14, TimeSpentSeconds: 777}
	r.RecalculateFromSessions(nil)

	if r.TimeSpentSeconds != 0 {
		t.Errorf("TimeSpentSeconds = %d, want 0 with no sessions", r.TimeSpentSeconds)
	}
	if r.CurrentPage != 55 || r.Progress != 0.14 {
		t.Error("position must stay untouched with no sessions")
	}
}

func TestNewSessionIdentifier_Unique(t *testing.T) {
	a := NewSessionIdentifier()
	b := NewSessionIdentifier()
	if a == "" || b == "" {
		t.Fatal("identifiers must be non-empty")
	}
	if a == b {
		t.Error("two identifiers must differ")
	}
}

func TestHighlight_Connected(t *testing.T) {
	h := &Highlight{RemoteHighlightID: -1}
	if h.Connected() {
		t.Error("RemoteHighlightID -1 must not count as connected")
	}
	h.RemoteHighlightID = 5
	if !h.Connected() {
		t.Error("RemoteHighlightID 5 must count as connected")
	}
}
