// Package mapview implements the map view collaborator: a websocket hub
// that streams render commands to a browser, and an in-memory recorder.
package mapview

import (
	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/neighborhood"
)

// Recorder is an in-memory map view. It keeps the current render state and
// a log of every call, in order.
type Recorder struct {
	Calls    []string
	Markers  map[geo.CellID]*neighborhood.Marker
	Player   geo.Position
	Center   geo.Position
	Path     []geo.Position
	Warnings []string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{Markers: make(map[geo.CellID]*neighborhood.Marker)}
}

func (r *Recorder) PanTo(pos geo.Position) {
	r.Calls = append(r.Calls, "pan_to")
	r.Center = pos
}

func (r *Recorder) SetPlayerMarker(pos geo.Position) {
	r.Calls = append(r.Calls, "player_marker")
	r.Player = pos
}

func (r *Recorder) AppendPathPoint(pos geo.Position) {
	r.Calls = append(r.Calls, "path_point")
	r.Path = append(r.Path, pos)
}

func (r *Recorder) ResetPath(path []geo.Position) {
	r.Calls = append(r.Calls, "path_reset")
	r.Path = append([]geo.Position(nil), path...)
}

func (r *Recorder) AddCacheMarker(m *neighborhood.Marker) {
	r.Calls = append(r.Calls, "cache_marker")
	r.Markers[m.Cell] = m
}

func (r *Recorder) RemoveAllCacheMarkers() {
	r.Calls = append(r.Calls, "clear_markers")
	clear(r.Markers)
}

func (r *Recorder) Warn(msg string) {
	r.Calls = append(r.Calls, "warning")
	r.Warnings = append(r.Warnings, msg)
}

// Reset forgets the call log.
func (r *Recorder) Reset() { r.Calls = nil }
