package zone

// Volume scale bounds.
const (
	// NativeVolumeMax is the controller's maximum volume (0-50 scale).
	NativeVolumeMax = 50

	// UIVolumeMax is the host platform's maximum volume (0-100 scale).
	UIVolumeMax = 100

	// VolumeStep is the native volume increment for volume_up/volume_down.
	VolumeStep = 2
)

// Controller topology bounds.
const (
	// MaxZones is the maximum number of zones per controller.
	MaxZones = 8

	// MaxSources is the maximum number of sources per controller.
	MaxSources = 8
)

// State holds the mirrored state of a single zone.
//
// Volume is on the controller's native 0-50 scale. SourceID is 0 when no
// source has been reported yet.
type State struct {
	ID       int
	Name     string
	Power    bool
	Volume   int
	Mute     bool
	SourceID int
}

// SourceInfo holds the mirrored state of a selectable source, including
// the media metadata the controller reports for it.
type SourceInfo struct {
	ID            int
	Name          string
	MediaTitle    string
	MediaArtist   string
	MediaAlbum    string
	MediaImageURL string
}

// Attributes is the normalized host-facing projection of a zone.
//
// It is recomputed from the mirror on every update and never mutated in
// place. Volume is on the 0-100 UI scale.
type Attributes struct {
	State         string   `json:"state"`
	Volume        int      `json:"volume"`
	Muted         bool     `json:"muted"`
	Source        string   `json:"source"`
	SourceList    []string `json:"source_list"`
	MediaTitle    string   `json:"media_title,omitempty"`
	MediaArtist   string   `json:"media_artist,omitempty"`
	MediaAlbum    string   `json:"media_album,omitempty"`
	MediaImageURL string   `json:"media_image_url,omitempty"`
}

// Attribute state values.
const (
	StateOn  = "on"
	StateOff = "off"
)
