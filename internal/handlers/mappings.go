package handlers

import (
	"net/http"
	"strconv"
)

// listMappings handles GET /api/mappings?type=
func (r *Router) listMappings(w http.ResponseWriter, req *http.Request) {
	mappings, err := r.intake.ListMappings(req.Context(), req.URL.Query().Get("type"))
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"mappings": mappings})
}

// resolveMapping handles GET /api/mappings/resolve?name=&type=
// A cache miss returns 200 with found=false; staff then maps manually.
func (r *Router) resolveMapping(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("name")
	productType := req.URL.Query().Get("type")
	if name == "" || productType == "" {
		respondError(w, http.StatusBadRequest, "name and type query parameters are required")
		return
	}

	mapping, err := r.intake.ResolveMapping(req.Context(), name, productType)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	if mapping == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"found": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"found":   true,
		"mapping": mapping,
	})
}

// suggestMapping handles GET /api/mappings/suggest?title=&max=
// Fuzzy-matches the title against the price tracker catalog so staff can
// pick a tcgplayer id without leaving the mapping screen.
func (r *Router) suggestMapping(w http.ResponseWriter, req *http.Request) {
	title := req.URL.Query().Get("title")
	if title == "" {
		respondError(w, http.StatusBadRequest, "title query parameter is required")
		return
	}

	max := 5
	if v := req.URL.Query().Get("max"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 20 {
			max = n
		}
	}

	matches := r.pricing.ParseTitle(req.Context(), title, max)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": matches,
	})
}
