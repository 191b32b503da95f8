package netlog

import (
	"fmt"
	"testing"
)

func TestLog_BoundedNewestFirst(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Completed(fmt.Sprintf("https://example.com/%d", i), "script", 200)
	}

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].URL != "https://example.com/4" || entries[2].URL != "https://example.com/2" {
		t.Fatalf("unexpected order: %s ... %s", entries[0].URL, entries[2].URL)
	}
}

func TestLog_Outcomes(t *testing.T) {
	l := New(0)
	var seen []Entry
	l.OnAppend(func(e Entry) { seen = append(seen, e) })

	l.Blocked("https://t.example/px", "image", "blocked: tracker")
	l.Failed("https://down.example", "mainFrame", "connection refused")
	l.Completed("https://ok.example", "mainFrame", 204)

	entries := l.Entries()
	if entries[2].Outcome != OutcomeBlocked || entries[2].Reason != "blocked: tracker" {
		t.Fatalf("blocked entry = %+v", entries[2])
	}
	if entries[1].Outcome != OutcomeError || entries[1].Reason != "connection refused" {
		t.Fatalf("error entry = %+v", entries[1])
	}
	if entries[0].Outcome != OutcomeStatus || entries[0].Status != 204 {
		t.Fatalf("status entry = %+v", entries[0])
	}
	if len(seen) != 3 {
		t.Fatalf("OnAppend called %d times, want 3", len(seen))
	}
	if entries[0].Time.IsZero() {
		t.Fatal("entry time not stamped")
	}
}
