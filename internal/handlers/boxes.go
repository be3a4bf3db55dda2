package handlers

import (
	"encoding/json"
	"net/http"

	ws "github.com/packfresh/intakego/internal/websocket"
)

// CreateBoxRequest registers a new storage box
type CreateBoxRequest struct {
	Capacity int    `json:"capacity" validate:"omitempty,min=1"`
	Location string `json:"location"`
}

// listBoxes handles GET /api/boxes
func (r *Router) listBoxes(w http.ResponseWriter, req *http.Request) {
	boxes, err := r.intake.ListBoxes(req.Context())
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"boxes": boxes})
}

// createBox handles POST /api/boxes
func (r *Router) createBox(w http.ResponseWriter, req *http.Request) {
	var body CreateBoxRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := r.validate.Struct(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	capacity := body.Capacity
	if capacity == 0 {
		capacity = 400
	}

	box, err := r.intake.CreateBox(req.Context(), capacity, body.Location)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	r.hub.Broadcast(ws.EventBoxUpdated, map[string]interface{}{
		"boxId":   box.ID,
		"barcode": box.Barcode,
	})
	respondJSON(w, http.StatusCreated, box)
}
