package domain

import (
	"testing"
	"time"
)

func TestParseMinuteOfDay(t *testing.T) {
	cases := map[string]struct {
		in      string
		want    MinuteOfDay
		wantErr bool
	}{
		"midnight":      {in: "00:00", want: 0},
		"morning":       {in: "09:30", want: 9*60 + 30},
		"last minute":   {in: "23:59", want: 23*60 + 59},
		"hour too high": {in: "24:00", wantErr: true},
		"minute high":   {in: "10:60", wantErr: true},
		"garbage":       {in: "noon", wantErr: true},
		"empty":         {in: "", wantErr: true},
	}

	for name, tc := range cases {
		got, err := ParseMinuteOfDay(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error for %q", name, tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %d, want %d", name, got, tc.want)
		}
	}
}

func TestMinuteOfDayString(t *testing.T) {
	if got := MinuteOfDay(9*60 + 5).String(); got != "09:05" {
		t.Fatalf("got %q", got)
	}
}

func TestCallWindowContains(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	window := CallWindow{Start: 9 * 60, End: 20 * 60}

	at := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 24, hour, minute, 0, 0, rome)
	}

	if !window.Contains(at(9, 0), rome) {
		t.Fatal("window start is inclusive")
	}
	if window.Contains(at(20, 0), rome) {
		t.Fatal("window end is exclusive")
	}
	if !window.Contains(at(19, 59), rome) {
		t.Fatal("last minute before end is inside")
	}
	if window.Contains(at(8, 59), rome) {
		t.Fatal("minute before start is outside")
	}

	// The same instant expressed in UTC must convert into the local window.
	utcInstant := at(10, 0).UTC()
	if !window.Contains(utcInstant, rome) {
		t.Fatal("window membership is evaluated in the campaign timezone")
	}
}

func TestCampaignCanTransition(t *testing.T) {
	legal := []struct {
		from CampaignStatus
		to   CampaignStatus
	}{
		{CampaignStatusDraft, CampaignStatusScheduled},
		{CampaignStatusDraft, CampaignStatusCancelled},
		{CampaignStatusScheduled, CampaignStatusRunning},
		{CampaignStatusRunning, CampaignStatusPaused},
		{CampaignStatusRunning, CampaignStatusCompleted},
		{CampaignStatusPaused, CampaignStatusRunning},
		{CampaignStatusPaused, CampaignStatusCancelled},
	}
	for _, tc := range legal {
		c := &Campaign{Status: tc.from}
		if !c.CanTransition(tc.to) {
			t.Fatalf("%s -> %s should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct {
		from CampaignStatus
		to   CampaignStatus
	}{
		{CampaignStatusDraft, CampaignStatusRunning},
		{CampaignStatusScheduled, CampaignStatusPaused},
		{CampaignStatusCompleted, CampaignStatusRunning},
		{CampaignStatusCancelled, CampaignStatusDraft},
	}
	for _, tc := range illegal {
		c := &Campaign{Status: tc.from}
		if c.CanTransition(tc.to) {
			t.Fatalf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestCampaignLocationFallsBackToUTC(t *testing.T) {
	c := &Campaign{Timezone: "Mars/Olympus"}
	if c.Location() != time.UTC {
		t.Fatal("unknown timezones fall back to UTC")
	}
}
