// Package session holds the small amount of state shared across features:
// the farmer's location, the field being worked on and the most recent
// diagnosis. A State is created by the caller and passed in explicitly.
package session

import (
	"sync"
	"time"

	"krishi/internal/geo"
)

// Location is where the farmer is, as resolved by the device or geocoder.
type Location struct {
	Point     geo.Point `json:"point"`
	Place     string    `json:"place,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field describes the plot a recommendation is for.
type Field struct {
	Name      string    `json:"name"`
	Crop      string    `json:"crop,omitempty"`
	AreaAcres float64   `json:"area_acres,omitempty"`
	SoilType  string    `json:"soil_type,omitempty"`
	Location  geo.Point `json:"location"`
}

// Diagnosis is the outcome of the last leaf-photo diagnosis.
type Diagnosis struct {
	Crop       string    `json:"crop,omitempty"`
	Disease    string    `json:"disease"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

// Snapshot is a copy of the whole state.
type Snapshot struct {
	Location      *Location  `json:"location,omitempty"`
	SelectedField *Field     `json:"selected_field,omitempty"`
	LastDiagnosis *Diagnosis `json:"last_diagnosis,omitempty"`
}

// State is safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	now       func() time.Time
	location  *Location
	field     *Field
	diagnosis *Diagnosis
}

// New returns an empty state.
func New() *State {
	return &State{now: time.Now}
}

func (s *State) SetLocation(point geo.Point, place string) Location {
	loc := Location{Point: point, Place: place, UpdatedAt: s.now()}
	s.mu.Lock()
	s.location = &loc
	s.mu.Unlock()
	return loc
}

// Location returns the current location, if one was set.
func (s *State) Location() (Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.location == nil {
		return Location{}, false
	}
	return *s.location, true
}

// Origin returns the location point, or a missing point when unknown, so
// distance ranking degrades instead of failing.
func (s *State) Origin() geo.Point {
	loc, ok := s.Location()
	if !ok {
		return geo.Missing()
	}
	return loc.Point
}

func (s *State) SelectField(field Field) {
	s.mu.Lock()
	s.field = &field
	s.mu.Unlock()
}

func (s *State) SelectedField() (Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.field == nil {
		return Field{}, false
	}
	return *s.field, true
}

func (s *State) RecordDiagnosis(d Diagnosis) {
	if d.At.IsZero() {
		d.At = s.now()
	}
	s.mu.Lock()
	s.diagnosis = &d
	s.mu.Unlock()
}

func (s *State) LastDiagnosis() (Diagnosis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.diagnosis == nil {
		return Diagnosis{}, false
	}
	return *s.diagnosis, true
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap Snapshot
	if s.location != nil {
		loc := *s.location
		snap.Location = &loc
	}
	if s.field != nil {
		field := *s.field
		snap.SelectedField = &field
	}
	if s.diagnosis != nil {
		d := *s.diagnosis
		snap.LastDiagnosis = &d
	}
	return snap
}

// Restore replaces the state with a previously taken snapshot.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location, s.field, s.diagnosis = nil, nil, nil
	if snap.Location != nil {
		loc := *snap.Location
		s.location = &loc
	}
	if snap.SelectedField != nil {
		field := *snap.SelectedField
		s.field = &field
	}
	if snap.LastDiagnosis != nil {
		d := *snap.LastDiagnosis
		s.diagnosis = &d
	}
}
