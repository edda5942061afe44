package zone

import (
	"errors"
	"testing"
)

func TestNewRegistry_Bounds(t *testing.T) {
	tests := []struct {
		name        string
		zones       int
		sources     int
		wantZones   int
		wantSources int
	}{
		{name: "typical", zones: 6, sources: 4, wantZones: 6, wantSources: 4},
		{name: "clamps above max", zones: 12, sources: 20, wantZones: 8, wantSources: 8},
		{name: "clamps below min", zones: 0, sources: -1, wantZones: 1, wantSources: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(tt.zones, tt.sources)
			if r.ZoneCount() != tt.wantZones {
				t.Errorf("ZoneCount() = %d, want %d", r.ZoneCount(), tt.wantZones)
			}
			if r.SourceCount() != tt.wantSources {
				t.Errorf("SourceCount() = %d, want %d", r.SourceCount(), tt.wantSources)
			}
		})
	}
}

func TestRegistry_DefaultZoneNames(t *testing.T) {
	r := NewRegistry(2, 2)

	z, err := r.Zone(1)
	if err != nil {
		t.Fatalf("Zone(1) error = %v", err)
	}
	if z.Name != "Zone 1" {
		t.Errorf("Zone(1).Name = %q, want %q", z.Name, "Zone 1")
	}
}

func TestRegistry_UnknownZone(t *testing.T) {
	r := NewRegistry(2, 2)

	_, err := r.Zone(5)
	if !errors.Is(err, ErrUnknownZone) {
		t.Errorf("Zone(5) error = %v, want ErrUnknownZone", err)
	}

	// Updates for out-of-range zones are rejected and change nothing
	if err := r.SetZoneVolume(5, 30); !errors.Is(err, ErrUnknownZone) {
		t.Errorf("SetZoneVolume(5) error = %v, want ErrUnknownZone", err)
	}
	if err := r.SetZonePower(0, true); !errors.Is(err, ErrUnknownZone) {
		t.Errorf("SetZonePower(0) error = %v, want ErrUnknownZone", err)
	}

	if got := len(r.Zones()); got != 2 {
		t.Errorf("len(Zones()) = %d after rejected updates, want 2", got)
	}
}

func TestRegistry_ZoneUpdates(t *testing.T) {
	r := NewRegistry(4, 4)

	if err := r.SetZoneName(2, "Kitchen"); err != nil {
		t.Fatalf("SetZoneName() error = %v", err)
	}
	if err := r.SetZonePower(2, true); err != nil {
		t.Fatalf("SetZonePower() error = %v", err)
	}
	if err := r.SetZoneVolume(2, 25); err != nil {
		t.Fatalf("SetZoneVolume() error = %v", err)
	}
	if err := r.SetZoneMute(2, true); err != nil {
		t.Fatalf("SetZoneMute() error = %v", err)
	}
	if err := r.SetZoneSource(2, 3); err != nil {
		t.Fatalf("SetZoneSource() error = %v", err)
	}

	z, err := r.Zone(2)
	if err != nil {
		t.Fatalf("Zone(2) error = %v", err)
	}

	if z.Name != "Kitchen" || !z.Power || z.Volume != 25 || !z.Mute || z.SourceID != 3 {
		t.Errorf("Zone(2) = %+v, want Kitchen/on/25/muted/source 3", z)
	}

	// Other zones are untouched
	other, _ := r.Zone(1)
	if other.Power || other.Volume != 0 {
		t.Errorf("Zone(1) = %+v, want untouched defaults", other)
	}
}

func TestRegistry_VolumeClamped(t *testing.T) {
	r := NewRegistry(1, 1)

	if err := r.SetZoneVolume(1, 99); err != nil {
		t.Fatalf("SetZoneVolume() error = %v", err)
	}

	z, _ := r.Zone(1)
	if z.Volume != NativeVolumeMax {
		t.Errorf("Volume = %d after overrange set, want %d", z.Volume, NativeVolumeMax)
	}
}

func TestRegistry_SourceUpdates(t *testing.T) {
	r := NewRegistry(2, 3)

	if err := r.SetSourceName(1, "Streamer"); err != nil {
		t.Fatalf("SetSourceName() error = %v", err)
	}
	if err := r.SetSourceMedia(1, "Title", "Artist", "Album", "http://img"); err != nil {
		t.Fatalf("SetSourceMedia() error = %v", err)
	}

	s, err := r.Source(1)
	if err != nil {
		t.Fatalf("Source(1) error = %v", err)
	}
	if s.Name != "Streamer" || s.MediaTitle != "Title" || s.MediaArtist != "Artist" {
		t.Errorf("Source(1) = %+v", s)
	}

	if err := r.SetSourceName(9, "bad"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("SetSourceName(9) error = %v, want ErrUnknownSource", err)
	}
}

func TestRegistry_SetSourceMediaField(t *testing.T) {
	r := NewRegistry(1, 1)

	fields := map[string]string{
		"songName":    "Song",
		"artistName":  "Artist",
		"albumName":   "Album",
		"coverArtURL": "http://art",
	}
	for field, value := range fields {
		if err := r.SetSourceMediaField(1, field, value); err != nil {
			t.Fatalf("SetSourceMediaField(%q) error = %v", field, err)
		}
	}

	// Unknown fields are ignored without error
	if err := r.SetSourceMediaField(1, "shuffleMode", "ON"); err != nil {
		t.Errorf("SetSourceMediaField(unknown) error = %v, want nil", err)
	}

	s, _ := r.Source(1)
	if s.MediaTitle != "Song" || s.MediaArtist != "Artist" || s.MediaAlbum != "Album" || s.MediaImageURL != "http://art" {
		t.Errorf("Source(1) = %+v", s)
	}
}

func TestRegistry_SourceIDByName(t *testing.T) {
	r := NewRegistry(2, 3)
	r.SetSourceName(2, "Turntable") //nolint:errcheck

	id, err := r.SourceIDByName("Turntable")
	if err != nil {
		t.Fatalf("SourceIDByName() error = %v", err)
	}
	if id != 2 {
		t.Errorf("SourceIDByName() = %d, want 2", id)
	}

	if _, err := r.SourceIDByName("Missing"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("SourceIDByName(missing) error = %v, want ErrUnknownSource", err)
	}
}

func TestRegistry_Restore(t *testing.T) {
	r := NewRegistry(2, 2)

	err := r.Restore(State{ID: 1, Name: "Lounge", Power: true, Volume: 30, Mute: false, SourceID: 2})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	z, _ := r.Zone(1)
	if z.Name != "Lounge" || !z.Power || z.Volume != 30 || z.SourceID != 2 {
		t.Errorf("Zone(1) = %+v after Restore", z)
	}

	if err := r.Restore(State{ID: 7}); !errors.Is(err, ErrUnknownZone) {
		t.Errorf("Restore(out of range) error = %v, want ErrUnknownZone", err)
	}
}

func TestRegistry_ZonesOrdered(t *testing.T) {
	r := NewRegistry(3, 1)

	zones := r.Zones()
	if len(zones) != 3 {
		t.Fatalf("len(Zones()) = %d, want 3", len(zones))
	}
	for i, z := range zones {
		if z.ID != i+1 {
			t.Errorf("Zones()[%d].ID = %d, want %d", i, z.ID, i+1)
		}
	}
}
