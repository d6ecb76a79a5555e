// Package academics reads the session, room and enrollment tables the
// attendance engine depends on. Department and course management live elsewhere.
package academics

import (
	"errors"
	"math"
	"time"
)

// Session status values.
const (
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusStopped   = "stopped"
)

var (
	// ErrNotFound is returned when a session or room does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSessionStopped is returned when a stopped session is asked to run again.
	ErrSessionStopped = errors.New("session already stopped")
)

// Session is a scheduled class meeting.
type Session struct {
	ID                 int64     `json:"id"`
	CourseAssignmentID int64     `json:"course_assignment_id"`
	RoomID             *int64    `json:"room_id,omitempty"`
	Status             string    `json:"status"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	QRStepSeconds      int       `json:"qr_step_seconds"`
}

// Running reports whether the session is running and now is before its end.
func (s Session) Running(now time.Time) bool {
	return s.Status == StatusRunning && now.Before(s.EndTime)
}

// Identity is an enrolled student.
type Identity struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

// Room is where a session takes place. Coordinates are optional.
type Room struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	RadiusM   float64  `json:"radius_m"`
}

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}

// Contains reports whether the point lies inside the room's geofence.
// A room without coordinates contains nothing.
func (r Room) Contains(lat, lon float64) bool {
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}
	return HaversineMeters(*r.Latitude, *r.Longitude, lat, lon) <= r.RadiusM
}
