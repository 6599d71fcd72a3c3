package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"gwi.com/insight-chat/internal/auth"
	"gwi.com/insight-chat/internal/core"
	"gwi.com/insight-chat/internal/observability"
)

type contextKey string

const (
	userIDKey         contextKey = "userID"
	externalUserIDKey contextKey = "externalUserID"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// model accepts only the ids offered by the model selector.
	v.RegisterValidation("model", func(fl validator.FieldLevel) bool {
		return core.IsKnownModel(fl.Field().String())
	})
	return v
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type APIHandler struct {
	conversations *core.ConversationService
	dataset       *core.DatasetService
	metrics       *observability.Metrics
	previewRows   int
}

func NewAPIHandler(cs *core.ConversationService, ds *core.DatasetService, metrics *observability.Metrics, previewRows int) *APIHandler {
	return &APIHandler{
		conversations: cs,
		dataset:       ds,
		metrics:       metrics,
		previewRows:   previewRows,
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// JWTAuthMiddleware accepts the token from the Authorization header, or from
// the token query parameter for websocket clients that cannot set headers.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		externalUserID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.conversations.GetUserByExternalID(externalUserID)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", externalUserID, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		ctx = context.WithValue(ctx, externalUserIDKey, user.ExternalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// conversation resolves the engine of the authenticated user.
func (h *APIHandler) conversation(w http.ResponseWriter, r *http.Request) (*core.Engine, bool) {
	userID := r.Context().Value(userIDKey).(int64)
	e, err := h.conversations.Conversation(userID)
	if err != nil {
		if errors.Is(err, core.ErrEngineClosed) {
			http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
			return nil, false
		}
		log.Printf("Error opening conversation for user %d: %v", userID, err)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return nil, false
	}
	return e, true
}

type CredentialsRequest struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	existing, err := h.conversations.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Printf("Error checking user %s: %v", req.UserID, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "User already exists", http.StatusConflict)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.UserID, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.conversations.CreateUser(req.UserID, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.UserID, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.conversations.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(req.UserID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.UserID, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

func (h *APIHandler) ClearConversationHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}
	e.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

type SubmitQueryRequest struct {
	Query string `json:"query" validate:"required"`
	Model string `json:"model" validate:"omitempty,model"`
}

type SubmitQueryResponse struct {
	Outcome      core.QueryOutcome         `json:"outcome"`
	Conversation core.ConversationSnapshot `json:"conversation"`
}

// SubmitQueryHandler answers 202 with the pending user message. With
// ?wait=true it blocks until the analysis finishes and answers 200.
func (h *APIHandler) SubmitQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitQueryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}

	pending, err := e.SubmitQuery(req.Query, req.Model)
	switch {
	case errors.Is(err, core.ErrEmptyQuery), errors.Is(err, core.ErrQueryTooLong), errors.Is(err, core.ErrUnknownModel):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, core.ErrSubmissionRejected):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, core.ErrEngineClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Printf("Error submitting query: %v", err)
		http.Error(w, "Failed to submit query", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		respondJSON(w, http.StatusAccepted, pending.UserMessage)
		return
	}

	outcome, err := pending.Wait(r.Context())
	if err != nil {
		// The client went away; the query keeps running.
		log.Printf("Stopped waiting for query %d: %v", pending.UserMessage.ID, err)
		return
	}
	respondJSON(w, http.StatusOK, SubmitQueryResponse{Outcome: outcome, Conversation: e.Snapshot()})
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// DeleteMessageHandler is idempotent: unknown ids also answer 204.
func (h *APIHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "messageID")
	if !ok {
		return
	}
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}
	e.DeleteByMessageID(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) DeleteAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "analysisID")
	if !ok {
		return
	}
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}
	e.DeleteByAnalysisID(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) NavigateFromMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "messageID")
	if !ok {
		return
	}
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"navigated": e.NavigateFromMessageToAnalysis(id)})
}

func (h *APIHandler) NavigateFromAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "analysisID")
	if !ok {
		return
	}
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"navigated": e.NavigateFromAnalysisToMessage(id)})
}

type UpdateViewRequest struct {
	View   string `json:"view" validate:"omitempty,oneof=data chat analysis"`
	Layout string `json:"layout" validate:"omitempty,oneof=desktop mobile"`
}

func (h *APIHandler) UpdateViewHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateViewRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}

	view := e.View()
	if req.Layout != "" {
		layout, _ := core.ParseLayout(req.Layout)
		view.SetLayout(layout)
	}
	if req.View != "" {
		v, _ := core.ParseView(req.View)
		view.SetActiveView(v)
		h.metrics.RecordEngagement(observability.ActionViewChange)
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

// EventsHandler streams view events over a websocket until either side
// closes it.
func (h *APIHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.conversation(w, r)
	if !ok {
		return
	}

	// Subscribe first so nothing published during the handshake is lost.
	subscriberID, events, cancel := e.View().Subscribe()
	defer cancel()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade events websocket: %v", err)
		return
	}
	defer ws.Close()
	log.Printf("Events subscriber %s connected for user %v", subscriberID, r.Context().Value(externalUserIDKey))

	// Reading is only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "conversation closed"))
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				log.Printf("Events subscriber %s write failed: %v", subscriberID, err)
				return
			}
		case <-closed:
			log.Printf("Events subscriber %s disconnected", subscriberID)
			return
		}
	}
}

func (h *APIHandler) DataOverviewHandler(w http.ResponseWriter, r *http.Request) {
	limit := h.previewRows
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	overview, err := h.dataset.Overview(limit)
	if err != nil {
		log.Printf("Error building data overview: %v", err)
		http.Error(w, "Failed to load data overview", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, overview)
}
