package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvents(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		path    string
		data    string
		want    int
		wantErr bool
	}{
		{
			name: "json object",
			path: "events.json",
			data: `{"events":[{"id":"e1","title":"Kickoff","start":"2026-03-02T15:00:00Z","attendees":[{"email":"a@x.com"}]}]}`,
			want: 1,
		},
		{
			name: "json list",
			path: "events.JSON",
			data: `[{"id":"e1","start":"2026-03-02T15:00:00Z"},{"id":"e2","start":"2026-03-02T15:00:00Z"}]`,
			want: 2,
		},
		{
			name: "yaml object",
			path: "events.yaml",
			data: "---\nevents:\n  - id: e1\n    title: Kickoff\n    start: 2026-03-02T15:00:00Z\n    attendees:\n      - email: a@x.com\n        organizer: true\n",
			want: 1,
		},
		{
			name: "yaml list",
			path: "events.yml",
			data: "- id: e1\n  start: 2026-03-02T15:00:00Z\n",
			want: 1,
		},
		{name: "empty", path: "events.json", data: "  \n", want: 0},
		{name: "malformed json", path: "events.json", data: `{"events":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := parseEvents(tt.path, []byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, events, tt.want)
			if tt.want > 0 {
				assert.Equal(t, "e1", events[0].ID)
				assert.True(t, start.Equal(events[0].Start))
			}
		})
	}
}

func TestParseEvents_YAMLAttendeeFlags(t *testing.T) {
	events, err := parseEvents("e.yaml", []byte("events:\n  - id: e1\n    start: 2026-03-02T15:00:00Z\n    attendees:\n      - email: a@x.com\n        display_name: Ann\n        optional: true\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, events[0].Attendees, 1)
	assert.Equal(t, "Ann", events[0].Attendees[0].DisplayName)
	assert.True(t, events[0].Attendees[0].Optional)
}
