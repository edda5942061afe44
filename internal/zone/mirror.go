package zone

import "fmt"

// Attributes builds the host-facing attribute projection for a zone.
//
// The projection is computed fresh on every call; callers may retain the
// result without affecting the mirror. The source name falls back to
// "Source {id}" when the controller reported a source the registry has no
// name for, and is empty while no source has been selected.
//
// Returns ErrUnknownZone for ids outside the configured range.
func (r *Registry) Attributes(zoneID int) (Attributes, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	z, ok := r.zones[zoneID]
	if !ok {
		return Attributes{}, fmt.Errorf("%w: %d", ErrUnknownZone, zoneID)
	}

	attrs := Attributes{
		State:      StateOff,
		Volume:     ToUI(z.Volume),
		Muted:      z.Mute,
		SourceList: r.sourceNames(),
	}
	if z.Power {
		attrs.State = StateOn
	}

	if z.SourceID > 0 {
		attrs.Source = r.sourceName(z.SourceID)
		if src, ok := r.sources[z.SourceID]; ok {
			attrs.MediaTitle = src.MediaTitle
			attrs.MediaArtist = src.MediaArtist
			attrs.MediaAlbum = src.MediaAlbum
			attrs.MediaImageURL = src.MediaImageURL
		}
	}

	return attrs, nil
}

// sourceName resolves a source id to its display name, with a numbered
// placeholder for ids the registry has no name for. Caller holds r.mu.
func (r *Registry) sourceName(id int) string {
	if src, ok := r.sources[id]; ok && src.Name != "" {
		return src.Name
	}
	return fmt.Sprintf("Source %d", id)
}

// sourceNames returns the display names of all configured sources,
// ordered by id. Caller holds r.mu.
func (r *Registry) sourceNames() []string {
	names := make([]string, 0, r.sourceCount)
	for id := 1; id <= r.sourceCount; id++ {
		names = append(names, r.sourceName(id))
	}
	return names
}
