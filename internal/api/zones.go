package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atward/riolink/internal/zone"
)

// zoneResponse is the API projection of one zone: the raw mirror state
// plus the host-facing attribute view.
type zoneResponse struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Attributes zone.Attributes `json:"attributes"`
}

// handleListZones returns all mirrored zones, ordered by id.
func (s *Server) handleListZones(w http.ResponseWriter, _ *http.Request) {
	registry := s.session.Registry()

	zones := make([]zoneResponse, 0, registry.ZoneCount())
	for _, z := range registry.Zones() {
		attrs, err := registry.Attributes(z.ID)
		if err != nil {
			continue
		}
		zones = append(zones, zoneResponse{ID: z.ID, Name: z.Name, Attributes: attrs})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"zones": zones,
		"count": len(zones),
	})
}

// handleGetZone returns one mirrored zone by id.
func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid zone id")
		return
	}

	registry := s.session.Registry()
	z, err := registry.Zone(id)
	if err != nil {
		writeNotFound(w, "zone not found")
		return
	}
	attrs, err := registry.Attributes(id)
	if err != nil {
		writeNotFound(w, "zone not found")
		return
	}

	writeJSON(w, http.StatusOK, zoneResponse{ID: z.ID, Name: z.Name, Attributes: attrs})
}
