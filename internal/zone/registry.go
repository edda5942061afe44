package zone

import (
	"fmt"
	"sync"
)

// Registry owns the zone and source mirrors for one controller.
//
// It is bounded at construction by the configured zone and source counts;
// updates for ids outside those bounds are rejected with ErrUnknownZone /
// ErrUnknownSource so a misbehaving controller cannot grow the maps.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Writers are expected to be
//     the session's notification handler only; readers get copies.
type Registry struct {
	mu      sync.RWMutex
	zones   map[int]*State
	sources map[int]*SourceInfo

	zoneCount   int
	sourceCount int
}

// NewRegistry creates a registry for the given topology.
//
// Counts are clamped to the controller maximums (8 zones, 8 sources).
// Zones and sources are pre-populated with ids 1..count so lookups never
// miss for in-range ids.
func NewRegistry(zoneCount, sourceCount int) *Registry {
	if zoneCount < 1 {
		zoneCount = 1
	}
	if zoneCount > MaxZones {
		zoneCount = MaxZones
	}
	if sourceCount < 1 {
		sourceCount = 1
	}
	if sourceCount > MaxSources {
		sourceCount = MaxSources
	}

	r := &Registry{
		zones:       make(map[int]*State, zoneCount),
		sources:     make(map[int]*SourceInfo, sourceCount),
		zoneCount:   zoneCount,
		sourceCount: sourceCount,
	}

	for id := 1; id <= zoneCount; id++ {
		r.zones[id] = &State{ID: id, Name: fmt.Sprintf("Zone %d", id)}
	}
	for id := 1; id <= sourceCount; id++ {
		r.sources[id] = &SourceInfo{ID: id}
	}

	return r
}

// ZoneCount returns the number of zones the registry tracks.
func (r *Registry) ZoneCount() int {
	return r.zoneCount
}

// SourceCount returns the number of sources the registry tracks.
func (r *Registry) SourceCount() int {
	return r.sourceCount
}

// HasZone reports whether a zone id is within the configured range.
func (r *Registry) HasZone(id int) bool {
	return id >= 1 && id <= r.zoneCount
}

// HasSource reports whether a source id is within the configured range.
func (r *Registry) HasSource(id int) bool {
	return id >= 1 && id <= r.sourceCount
}

// Zone returns a copy of the state for a zone.
func (r *Registry) Zone(id int) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	z, ok := r.zones[id]
	if !ok {
		return State{}, fmt.Errorf("%w: %d", ErrUnknownZone, id)
	}
	return *z, nil
}

// Zones returns copies of all zone states, ordered by id.
func (r *Registry) Zones() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]State, 0, r.zoneCount)
	for id := 1; id <= r.zoneCount; id++ {
		out = append(out, *r.zones[id])
	}
	return out
}

// Source returns a copy of the state for a source.
func (r *Registry) Source(id int) (SourceInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[id]
	if !ok {
		return SourceInfo{}, fmt.Errorf("%w: %d", ErrUnknownSource, id)
	}
	return *s, nil
}

// Sources returns copies of all source states, ordered by id.
func (r *Registry) Sources() []SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SourceInfo, 0, r.sourceCount)
	for id := 1; id <= r.sourceCount; id++ {
		out = append(out, *r.sources[id])
	}
	return out
}

// SourceIDByName resolves a source name (case-sensitive) to its id.
// Returns ErrUnknownSource when no source carries that name.
func (r *Registry) SourceIDByName(name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id := 1; id <= r.sourceCount; id++ {
		if r.sources[id].Name == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

// SetZoneName updates a zone's display name.
func (r *Registry) SetZoneName(id int, name string) error {
	return r.updateZone(id, func(z *State) { z.Name = name })
}

// SetZonePower updates a zone's power state.
func (r *Registry) SetZonePower(id int, on bool) error {
	return r.updateZone(id, func(z *State) { z.Power = on })
}

// SetZoneVolume updates a zone's native volume. Out-of-range values are
// clamped rather than rejected; the controller is authoritative.
func (r *Registry) SetZoneVolume(id int, native int) error {
	return r.updateZone(id, func(z *State) { z.Volume = ClampNative(native) })
}

// SetZoneMute updates a zone's mute state.
func (r *Registry) SetZoneMute(id int, muted bool) error {
	return r.updateZone(id, func(z *State) { z.Mute = muted })
}

// SetZoneSource updates a zone's current source id.
// An out-of-range source id is stored as reported; attribute projection
// falls back to a placeholder name for it.
func (r *Registry) SetZoneSource(id int, sourceID int) error {
	return r.updateZone(id, func(z *State) { z.SourceID = sourceID })
}

// SetSourceName updates a source's display name.
func (r *Registry) SetSourceName(id int, name string) error {
	return r.updateSource(id, func(s *SourceInfo) { s.Name = name })
}

// SetSourceMedia updates a source's media metadata. Empty strings clear
// the corresponding field.
func (r *Registry) SetSourceMedia(id int, title, artist, album, imageURL string) error {
	return r.updateSource(id, func(s *SourceInfo) {
		s.MediaTitle = title
		s.MediaArtist = artist
		s.MediaAlbum = album
		s.MediaImageURL = imageURL
	})
}

// SetSourceMediaField updates a single media metadata field by name.
// Unknown field names are ignored without error; the controller reports
// more fields than the mirror tracks.
func (r *Registry) SetSourceMediaField(id int, field, value string) error {
	return r.updateSource(id, func(s *SourceInfo) {
		switch field {
		case "songName":
			s.MediaTitle = value
		case "artistName":
			s.MediaArtist = value
		case "albumName":
			s.MediaAlbum = value
		case "coverArtURL":
			s.MediaImageURL = value
		}
	})
}

// Restore replaces a zone's state wholesale. Used when loading persisted
// snapshots at startup, before the first connect.
func (r *Registry) Restore(s State) error {
	return r.updateZone(s.ID, func(z *State) {
		z.Name = s.Name
		z.Power = s.Power
		z.Volume = ClampNative(s.Volume)
		z.Mute = s.Mute
		z.SourceID = s.SourceID
	})
}

// RestoreSource replaces a source's state wholesale.
func (r *Registry) RestoreSource(s SourceInfo) error {
	return r.updateSource(s.ID, func(dst *SourceInfo) {
		dst.Name = s.Name
		dst.MediaTitle = s.MediaTitle
		dst.MediaArtist = s.MediaArtist
		dst.MediaAlbum = s.MediaAlbum
		dst.MediaImageURL = s.MediaImageURL
	})
}

func (r *Registry) updateZone(id int, fn func(*State)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	z, ok := r.zones[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownZone, id)
	}
	fn(z)
	return nil
}

func (r *Registry) updateSource(id int, fn func(*SourceInfo)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSource, id)
	}
	fn(s)
	return nil
}
