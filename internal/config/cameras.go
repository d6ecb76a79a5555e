package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// CameraMap resolves the capture source for a room. Sources are whatever
// the camera package accepts: a device index, a device path, or a stream URL.
type CameraMap struct {
	Default string            `yaml:"default"`
	Rooms   map[string]string `yaml:"rooms"`
}

// LoadCameraMap reads a YAML camera map. An empty path yields a map that
// always returns fallback.
//
//	default: "0"
//	rooms:
//	  "12": /dev/video2
//	  "14": rtsp://10.0.4.20/stream1
func LoadCameraMap(path, fallback string) (*CameraMap, error) {
	m := &CameraMap{Default: fallback, Rooms: map[string]string{}}
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read camera map: %w", err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse camera map %s: %w", path, err)
	}
	if m.Default == "" {
		m.Default = fallback
	}
	if m.Rooms == nil {
		m.Rooms = map[string]string{}
	}
	return m, nil
}

// SourceFor returns the camera source for roomID, or the default when the
// room is unknown or nil.
func (m *CameraMap) SourceFor(roomID *int64) string {
	if m == nil {
		return ""
	}
	if roomID != nil {
		if src, ok := m.Rooms[strconv.FormatInt(*roomID, 10)]; ok && src != "" {
			return src
		}
	}
	return m.Default
}
