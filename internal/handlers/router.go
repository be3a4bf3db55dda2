package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/packfresh/intakego/internal/config"
	"github.com/packfresh/intakego/internal/database"
	"github.com/packfresh/intakego/internal/intake"
	"github.com/packfresh/intakego/internal/middleware"
	"github.com/packfresh/intakego/internal/pricing"
	ws "github.com/packfresh/intakego/internal/websocket"
)

// Router wraps the mux router with the service dependencies
type Router struct {
	*mux.Router
	db       *database.DB
	cfg      *config.Config
	log      *logrus.Logger
	intake   *intake.Service
	pricing  *pricing.Client
	hub      *ws.Hub
	validate *validator.Validate
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(db *database.DB, cfg *config.Config, log *logrus.Logger, svc *intake.Service, priceClient *pricing.Client, hub *ws.Hub) *Router {
	r := &Router{
		Router:   mux.NewRouter(),
		db:       db,
		cfg:      cfg,
		log:      log,
		intake:   svc,
		pricing:  priceClient,
		hub:      hub,
		validate: validator.New(),
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", r.login).Methods("POST")
	auth.HandleFunc("/register", r.register).Methods("POST")
	auth.HandleFunc("/logout", r.logout).Methods("POST")

	requireAuth := middleware.AuthMiddleware(cfg.JWTSecret)

	// Intake session routes
	sessions := r.PathPrefix("/api/sessions").Subrouter()
	sessions.Use(requireAuth)
	sessions.HandleFunc("", r.listSessions).Methods("GET")
	sessions.HandleFunc("", r.createSession).Methods("POST")
	sessions.HandleFunc("/{id}", r.getSession).Methods("GET")
	sessions.HandleFunc("/{id}/items", r.addItems).Methods("POST")
	sessions.HandleFunc("/{id}/offer", r.updateOfferPercentage).Methods("PUT")
	sessions.HandleFunc("/{id}/finalize", r.finalizeSession).Methods("POST")
	sessions.HandleFunc("/{id}/cancel", r.cancelSession).Methods("POST")

	// Item routes
	items := r.PathPrefix("/api/items").Subrouter()
	items.Use(requireAuth)
	items.HandleFunc("/{id}/map", r.mapItem).Methods("POST")
	items.HandleFunc("/{id}/price", r.updateItemPrice).Methods("PUT")
	items.HandleFunc("/{id}/split-damaged", r.splitDamaged).Methods("POST")
	items.HandleFunc("/{id}/missing", r.markItemMissing).Methods("POST")
	items.HandleFunc("/{id}/reject", r.markItemRejected).Methods("POST")
	items.HandleFunc("/{id}/restore", r.restoreItem).Methods("POST")
	items.HandleFunc("/{id}", r.deleteItem).Methods("DELETE")

	// Mapping cache routes
	mappings := r.PathPrefix("/api/mappings").Subrouter()
	mappings.Use(requireAuth)
	mappings.HandleFunc("", r.listMappings).Methods("GET")
	mappings.HandleFunc("/resolve", r.resolveMapping).Methods("GET")
	mappings.HandleFunc("/suggest", r.suggestMapping).Methods("GET")

	// Raw card routes
	cards := r.PathPrefix("/api/cards").Subrouter()
	cards.Use(requireAuth)
	cards.HandleFunc("/{barcode}", r.getCard).Methods("GET")
	cards.HandleFunc("/{barcode}/transition", r.transitionCard).Methods("POST")
	cards.HandleFunc("/{barcode}/price", r.updateCardPrice).Methods("PUT")
	cards.HandleFunc("/{barcode}/label", r.printCardLabel).Methods("GET")

	// Storage box routes
	boxes := r.PathPrefix("/api/boxes").Subrouter()
	boxes.Use(requireAuth)
	boxes.HandleFunc("", r.listBoxes).Methods("GET")
	boxes.HandleFunc("", r.createBox).Methods("POST")

	// Scanner entry point and label printing
	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireAuth)
	api.HandleFunc("/scan", r.handleScan).Methods("POST")
	api.HandleFunc("/print/labels", r.printLabelSheet).Methods("POST")

	// Live dashboard events
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, w, req)
	})

	// Static dashboard files when a frontend build is deployed alongside
	if publicDir := os.Getenv("FRONTEND_DIR"); publicDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(publicDir)))
	}

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondServiceError maps service errors onto HTTP statuses
func (r *Router) respondServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *intake.ValidationError
		notFoundErr   *intake.NotFoundError
		conflictErr   *intake.ConflictError
		duplicateErr  *intake.DuplicateImportError
		unresolvedErr *intake.UnresolvedItemsError
		illegalErr    *intake.IllegalTransitionError
		immutableErr  *intake.ImmutableSessionError
	)

	switch {
	case errors.As(err, &validationErr):
		respondError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		respondError(w, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &duplicateErr):
		respondJSON(w, http.StatusConflict, map[string]string{
			"error":             duplicateErr.Error(),
			"existingSessionId": duplicateErr.SessionID,
		})
	case errors.As(err, &unresolvedErr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":           unresolvedErr.Error(),
			"unresolvedItems": unresolvedErr.ItemIDs,
		})
	case errors.As(err, &illegalErr):
		respondError(w, http.StatusConflict, illegalErr.Error())
	case errors.As(err, &immutableErr):
		respondError(w, http.StatusConflict, immutableErr.Error())
	case errors.As(err, &conflictErr):
		respondError(w, http.StatusConflict, conflictErr.Error())
	default:
		r.log.Errorf("Unhandled service error: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
