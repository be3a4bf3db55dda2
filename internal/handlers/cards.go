package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/packfresh/intakego/internal/intake"
	"github.com/packfresh/intakego/internal/middleware"
	"github.com/packfresh/intakego/internal/services/printer"
	ws "github.com/packfresh/intakego/internal/websocket"
)

// TransitionRequest moves a card to a new lifecycle state
type TransitionRequest struct {
	ToState       string           `json:"toState" validate:"required"`
	BoxID         *uint            `json:"boxId"`
	RemovalReason string           `json:"removalReason"`
	SalePrice     *decimal.Decimal `json:"salePrice"`
	Note          string           `json:"note"`
}

// getCard handles GET /api/cards/{barcode}, returning the card with its
// audit history.
func (r *Router) getCard(w http.ResponseWriter, req *http.Request) {
	card, history, err := r.intake.GetCardByBarcode(req.Context(), mux.Vars(req)["barcode"])
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"card":    card,
		"history": history,
	})
}

// transitionCard handles POST /api/cards/{barcode}/transition
func (r *Router) transitionCard(w http.ResponseWriter, req *http.Request) {
	var body TransitionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := r.validate.Struct(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, err := r.intake.TransitionCard(req.Context(), intake.TransitionInput{
		Barcode:       mux.Vars(req)["barcode"],
		ToState:       body.ToState,
		BoxID:         body.BoxID,
		RemovalReason: body.RemovalReason,
		SalePrice:     body.SalePrice,
		ActorID:       middleware.ActorID(req.Context()),
		Note:          body.Note,
	})
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	r.hub.Broadcast(ws.EventCardTransition, map[string]interface{}{
		"barcode": card.Barcode,
		"state":   card.State,
	})
	respondJSON(w, http.StatusOK, card)
}

// updateCardPrice handles PUT /api/cards/{barcode}/price
func (r *Router) updateCardPrice(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Price  decimal.Decimal `json:"price"`
		Source string          `json:"source"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	source := body.Source
	if source == "" {
		source = "manual"
	}

	card, err := r.intake.UpdateCardPrice(req.Context(), mux.Vars(req)["barcode"], body.Price, source, middleware.ActorID(req.Context()))
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

// printCardLabel handles GET /api/cards/{barcode}/label, returning a QR
// label PNG for reprints.
func (r *Router) printCardLabel(w http.ResponseWriter, req *http.Request) {
	card, _, err := r.intake.GetCardByBarcode(req.Context(), mux.Vars(req)["barcode"])
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	png, err := printer.GenerateCardLabelPNG(card.Barcode)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate label")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
