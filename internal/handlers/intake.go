package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/packfresh/intakego/internal/intake"
	"github.com/packfresh/intakego/internal/middleware"
	"github.com/packfresh/intakego/internal/models"
	"github.com/packfresh/intakego/internal/pricing"
	ws "github.com/packfresh/intakego/internal/websocket"
)

// CreateSessionRequest opens a new intake session
type CreateSessionRequest struct {
	CustomerName    string          `json:"customerName" validate:"required"`
	SessionType     string          `json:"sessionType" validate:"required,oneof=sealed raw mixed"`
	OfferPercentage decimal.Decimal `json:"offerPercentage"`
	SourceFileName  string          `json:"sourceFileName"`
	SourceFileHash  string          `json:"sourceFileHash"`
	Notes           string          `json:"notes"`
}

// StagedItemRequest is one line of an uploaded inventory export
type StagedItemRequest struct {
	ProductName string          `json:"productName" validate:"required"`
	ProductType string          `json:"productType" validate:"required,oneof=sealed raw"`
	Quantity    int             `json:"quantity" validate:"required,min=1"`
	MarketPrice decimal.Decimal `json:"marketPrice"`
	TCGPlayerID *int64          `json:"tcgplayerId"`
	SetName     string          `json:"setName"`
	CardNumber  string          `json:"cardNumber"`
	Condition   string          `json:"condition"`
	Rarity      string          `json:"rarity"`
}

// AddItemsRequest stages a batch of items into a session
type AddItemsRequest struct {
	Items []StagedItemRequest `json:"items" validate:"required,min=1,dive"`
}

// createSession handles POST /api/sessions
func (r *Router) createSession(w http.ResponseWriter, req *http.Request) {
	var body CreateSessionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := r.validate.Struct(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	offerPct := body.OfferPercentage
	if offerPct.IsZero() {
		offerPct, _ = decimal.NewFromString(r.cfg.Intake.DefaultOfferPercentage)
	}

	session, err := r.intake.CreateSession(req.Context(), intake.CreateSessionInput{
		CustomerName:    body.CustomerName,
		SessionType:     body.SessionType,
		OfferPercentage: offerPct,
		SourceFileName:  body.SourceFileName,
		SourceFileHash:  body.SourceFileHash,
		EmployeeID:      middleware.ActorID(req.Context()),
		Notes:           body.Notes,
	})
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// listSessions handles GET /api/sessions?status=&limit=
func (r *Router) listSessions(w http.ResponseWriter, req *http.Request) {
	status := req.URL.Query().Get("status")
	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := r.intake.ListSessions(req.Context(), status, limit)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// getSession handles GET /api/sessions/{id}
func (r *Router) getSession(w http.ResponseWriter, req *http.Request) {
	session, err := r.intake.GetSession(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// addItems handles POST /api/sessions/{id}/items
func (r *Router) addItems(w http.ResponseWriter, req *http.Request) {
	var body AddItemsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := r.validate.Struct(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	staged := make([]intake.StagedItem, len(body.Items))
	for i, item := range body.Items {
		staged[i] = intake.StagedItem{
			ProductName: item.ProductName,
			ProductType: item.ProductType,
			Quantity:    item.Quantity,
			MarketPrice: item.MarketPrice,
			TCGPlayerID: item.TCGPlayerID,
			SetName:     item.SetName,
			CardNumber:  item.CardNumber,
			Condition:   item.Condition,
			Rarity:      item.Rarity,
			NeedsReview: item.MarketPrice.IsZero(),
		}
	}

	items, err := r.intake.AddItems(req.Context(), mux.Vars(req)["id"], staged)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{"items": items})
}

// updateOfferPercentage handles PUT /api/sessions/{id}/offer
func (r *Router) updateOfferPercentage(w http.ResponseWriter, req *http.Request) {
	var body struct {
		OfferPercentage decimal.Decimal `json:"offerPercentage"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	session, err := r.intake.UpdateOfferPercentage(req.Context(), mux.Vars(req)["id"], body.OfferPercentage)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	r.hub.Broadcast(ws.EventItemUpdated, map[string]string{"sessionId": session.ID})
	respondJSON(w, http.StatusOK, session)
}

// finalizeSession handles POST /api/sessions/{id}/finalize
func (r *Router) finalizeSession(w http.ResponseWriter, req *http.Request) {
	sessionID := mux.Vars(req)["id"]
	result, err := r.intake.FinalizeSession(req.Context(), sessionID, middleware.ActorID(req.Context()))
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	r.hub.Broadcast(ws.EventSessionFinalized, result)
	respondJSON(w, http.StatusOK, result)
}

// cancelSession handles POST /api/sessions/{id}/cancel
func (r *Router) cancelSession(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)

	session, err := r.intake.CancelSession(req.Context(), mux.Vars(req)["id"], body.Reason)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// MapItemRequest resolves one staged item to a tcgplayer product
type MapItemRequest struct {
	TCGPlayerID int64            `json:"tcgplayerId" validate:"required,gt=0"`
	MarketPrice *decimal.Decimal `json:"marketPrice"`
}

// mapItem handles POST /api/items/{id}/map. When the request carries no
// market price, the price tracker is consulted; a failed lookup leaves the
// staged price in place and flags the item for review.
func (r *Router) mapItem(w http.ResponseWriter, req *http.Request) {
	var body MapItemRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := r.validate.Struct(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	itemID := mux.Vars(req)["id"]

	marketPrice := body.MarketPrice
	if marketPrice == nil {
		if fetched := r.fetchMarketPrice(req, itemID, body.TCGPlayerID); fetched != nil {
			marketPrice = fetched
		}
	}

	item, err := r.intake.MapItem(req.Context(), itemID, body.TCGPlayerID, marketPrice)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	r.hub.Broadcast(ws.EventItemMapped, itemEvent(item))
	respondJSON(w, http.StatusOK, item)
}

// itemEvent builds the broadcast payload for item-level dashboard events.
func itemEvent(item *models.IntakeItem) map[string]interface{} {
	return map[string]interface{}{
		"sessionId": item.SessionID,
		"itemId":    item.ID,
	}
}

// fetchMarketPrice looks up the current market price for an item. Best
// effort: any failure returns nil and mapping proceeds with the staged price.
func (r *Router) fetchMarketPrice(req *http.Request, itemID string, tcgplayerID int64) *decimal.Decimal {
	var item models.IntakeItem
	if err := r.db.Select("product_type").First(&item, "id = ?", itemID).Error; err != nil {
		return nil
	}

	var card *pricing.Card
	var err error
	if item.ProductType == models.ProductSealed {
		card, err = r.pricing.LookupSealed(req.Context(), tcgplayerID)
	} else {
		card, err = r.pricing.LookupCard(req.Context(), tcgplayerID)
	}
	if err != nil {
		r.log.Warnf("Price lookup failed for tcgplayer id %d: %v", tcgplayerID, err)
		return nil
	}
	if price, ok := card.MarketPrice(); ok {
		return &price
	}
	return nil
}

// UpdateItemPriceRequest changes the market price of a staged item. A note is
// required when the change is a manual override of a fetched price.
type UpdateItemPriceRequest struct {
	MarketPrice decimal.Decimal `json:"marketPrice"`
	Override    bool            `json:"override"`
	Note        string          `json:"note"`
}

// updateItemPrice handles PUT /api/items/{id}/price
func (r *Router) updateItemPrice(w http.ResponseWriter, req *http.Request) {
	var body UpdateItemPriceRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	itemID := mux.Vars(req)["id"]

	var item *models.IntakeItem
	var err error
	if body.Override {
		item, err = r.intake.OverrideItemPrice(req.Context(), itemID, body.MarketPrice, body.Note)
	} else {
		item, err = r.intake.UpdateItemPrice(req.Context(), itemID, body.MarketPrice)
	}
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	r.hub.Broadcast(ws.EventItemUpdated, itemEvent(item))
	respondJSON(w, http.StatusOK, item)
}

// splitDamaged handles POST /api/items/{id}/split-damaged
func (r *Router) splitDamaged(w http.ResponseWriter, req *http.Request) {
	var body struct {
		DamagedQuantity int `json:"damagedQuantity" validate:"required,min=1"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := r.validate.Struct(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := r.intake.SplitDamaged(req.Context(), mux.Vars(req)["id"], body.DamagedQuantity)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	r.hub.Broadcast(ws.EventItemUpdated, itemEvent(item))
	respondJSON(w, http.StatusOK, item)
}

// markItemMissing handles POST /api/items/{id}/missing
func (r *Router) markItemMissing(w http.ResponseWriter, req *http.Request) {
	r.setItemStatus(w, req, r.intake.MarkItemMissing)
}

// markItemRejected handles POST /api/items/{id}/reject
func (r *Router) markItemRejected(w http.ResponseWriter, req *http.Request) {
	r.setItemStatus(w, req, r.intake.MarkItemRejected)
}

// restoreItem handles POST /api/items/{id}/restore
func (r *Router) restoreItem(w http.ResponseWriter, req *http.Request) {
	r.setItemStatus(w, req, r.intake.RestoreItem)
}

func (r *Router) setItemStatus(w http.ResponseWriter, req *http.Request, fn func(ctx context.Context, itemID string) (*models.IntakeItem, error)) {
	item, err := fn(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		r.respondServiceError(w, err)
		return
	}

	r.hub.Broadcast(ws.EventItemUpdated, itemEvent(item))
	respondJSON(w, http.StatusOK, item)
}

// deleteItem handles DELETE /api/items/{id}
func (r *Router) deleteItem(w http.ResponseWriter, req *http.Request) {
	if err := r.intake.DeleteItem(req.Context(), mux.Vars(req)["id"]); err != nil {
		r.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Item deleted"})
}
