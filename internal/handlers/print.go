package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/packfresh/intakego/internal/models"
	"github.com/packfresh/intakego/internal/services/printer"
)

// PrintLabelsRequest selects the cards to print. Either an explicit barcode
// list or every card created by a finalize run (by session id).
type PrintLabelsRequest struct {
	Barcodes  []string            `json:"barcodes"`
	SessionID string              `json:"sessionId"`
	Layout    printer.SheetConfig `json:"layout"`
}

// printLabelSheet handles POST /api/print/labels, returning a PDF sheet of
// QR labels for freshly finalized raw cards.
func (r *Router) printLabelSheet(w http.ResponseWriter, req *http.Request) {
	var body PrintLabelsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(body.Barcodes) == 0 && body.SessionID == "" {
		respondError(w, http.StatusBadRequest, "barcodes or sessionId is required")
		return
	}

	query := r.db.Model(&models.RawCard{}).Order("created_at ASC")
	if len(body.Barcodes) > 0 {
		query = query.Where("barcode IN ?", body.Barcodes)
	} else {
		query = query.Where("intake_session_id = ?", body.SessionID)
	}

	var cards []models.RawCard
	if err := query.Find(&cards).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load cards")
		return
	}
	if len(cards) == 0 {
		respondError(w, http.StatusNotFound, "No cards found to print")
		return
	}

	labels := make([]printer.CardLabel, len(cards))
	for i, card := range cards {
		labels[i] = printer.CardLabel{
			Barcode:    card.Barcode,
			Name:       card.CardName,
			SetName:    card.SetName,
			CardNumber: card.CardNumber,
			Condition:  card.Condition,
		}
	}

	pdf, err := printer.GenerateLabelSheetPDF(labels, body.Layout)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate label sheet")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=card-labels.pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}
