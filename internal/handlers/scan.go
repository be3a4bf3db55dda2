package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/packfresh/intakego/internal/models"
	"github.com/packfresh/intakego/internal/utils"
)

// ScanRequest represents the payload from a scanner
type ScanRequest struct {
	Barcode string `json:"barcode"`
}

// ScanResponse standardizes the scan result
type ScanResponse struct {
	Type    string      `json:"type"`           // card, box, mapping
	Message string      `json:"message"`        // Human readable status
	Data    interface{} `json:"data,omitempty"` // The resulting object
}

// handleScan is the universal entry point for all barcode scans. The prefix
// decides the lookup: PF- codes are raw cards, BOX- codes are storage boxes,
// anything else is treated as a product name and checked against the cache.
func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) {
	var body ScanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	barcode := strings.TrimSpace(body.Barcode)
	if barcode == "" {
		respondError(w, http.StatusBadRequest, "Empty barcode")
		return
	}

	switch {
	case utils.IsCardBarcode(barcode):
		card, history, err := r.intake.GetCardByBarcode(req.Context(), barcode)
		if err != nil {
			r.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, ScanResponse{
			Type:    "card",
			Message: "Card found",
			Data: map[string]interface{}{
				"card":    card,
				"history": history,
			},
		})

	case strings.HasPrefix(barcode, "BOX-"):
		box, err := r.intake.GetBoxByBarcode(req.Context(), barcode)
		if err != nil {
			r.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, ScanResponse{
			Type:    "box",
			Message: "Box found",
			Data:    box,
		})

	default:
		for _, productType := range []string{models.ProductSealed, models.ProductRaw} {
			mapping, err := r.intake.ResolveMapping(req.Context(), barcode, productType)
			if err != nil {
				r.respondServiceError(w, err)
				return
			}
			if mapping != nil {
				respondJSON(w, http.StatusOK, ScanResponse{
					Type:    "mapping",
					Message: "Product name matched",
					Data:    mapping,
				})
				return
			}
		}
		respondError(w, http.StatusNotFound, "No card, box, or known product name matches")
	}
}
