package presence

import (
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name string
		want Status
		ok   bool
	}{
		{"available", Available, true},
		{"busy", Busy, true},
		{"away", Away, true},
		{"offline", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseStatus(tt.name)
		if ok != tt.ok {
			t.Errorf("ParseStatus(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseStatus(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTrackerEmpty(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Current(); ok {
		t.Error("empty tracker reported an observation")
	}
}

func TestTrackerSupersedes(t *testing.T) {
	tr := NewTracker()
	base := time.Now()

	if !tr.Apply(Observation{Status: Available, Source: SourceServer, ObservedAt: base}) {
		t.Fatal("first observation rejected")
	}
	if !tr.Apply(Observation{Status: Busy, Source: SourcePush, ObservedAt: base.Add(time.Second)}) {
		t.Fatal("newer observation rejected")
	}

	obs, ok := tr.Current()
	if !ok || obs.Status != Busy || obs.Source != SourcePush {
		t.Errorf("Current() = %+v, want busy from push", obs)
	}
}

// A poll result carrying an older timestamp must not overwrite a newer
// optimistic write, regardless of arrival order.
func TestTrackerRejectsStale(t *testing.T) {
	tr := NewTracker()
	base := time.Now()

	tr.Apply(Observation{Status: Busy, Source: SourceLocal, ObservedAt: base.Add(time.Second)})
	if tr.Apply(Observation{Status: Available, Source: SourceHeartbeat, ObservedAt: base}) {
		t.Error("stale observation was adopted")
	}

	if st, _ := tr.Status(); st != Busy {
		t.Errorf("Status() = %v, want Busy", st)
	}
}

func TestTrackerEqualTimestampWins(t *testing.T) {
	tr := NewTracker()
	at := time.Now()

	tr.Apply(Observation{Status: Available, Source: SourceServer, ObservedAt: at})
	if !tr.Apply(Observation{Status: Away, Source: SourcePush, ObservedAt: at}) {
		t.Error("equal-timestamp observation rejected")
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.Apply(Observation{Status: Away, Source: SourceServer, ObservedAt: time.Now()})
	tr.Reset()

	if _, ok := tr.Current(); ok {
		t.Error("tracker still has an observation after Reset")
	}
	// A fresh session must accept any timestamp again.
	if !tr.Apply(Observation{Status: Available, Source: SourceServer, ObservedAt: time.Unix(0, 0)}) {
		t.Error("reset tracker rejected a new observation")
	}
}
