package academics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionRunning(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := Session{Status: StatusRunning, StartTime: start, EndTime: start.Add(time.Hour)}

	assert.True(t, s.Running(start.Add(30*time.Minute)))
	assert.False(t, s.Running(start.Add(time.Hour)), "end time is exclusive")

	s.Status = StatusStopped
	assert.False(t, s.Running(start))
}

func TestHaversineMeters(t *testing.T) {
	assert.InDelta(t, 0, HaversineMeters(12.97, 77.59, 12.97, 77.59), 1e-9)
	// one degree of latitude is roughly 111 km
	assert.InDelta(t, 111195, HaversineMeters(0, 0, 1, 0), 50)
}

func TestRoomContains(t *testing.T) {
	lat, lon := 12.9716, 77.5946
	room := Room{Latitude: &lat, Longitude: &lon, RadiusM: 60}

	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{name: "center", lat: lat, lon: lon, want: true},
		{name: "thirty meters north", lat: lat + 30.0/111195, lon: lon, want: true},
		{name: "two hundred meters north", lat: lat + 200.0/111195, lon: lon, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, room.Contains(tt.lat, tt.lon))
		})
	}

	assert.False(t, Room{RadiusM: 1000}.Contains(lat, lon), "no coordinates")
}
