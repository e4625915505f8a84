package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/presence"
	"github.com/mahaj/chatcore/pkg/storage"
)

// API exposes the read-side HTTP endpoints next to the websocket gateway:
// message history, presence, users and channel members.
type API struct {
	coordinator *chat.Coordinator
	tracker     *presence.Tracker
	logger      *zap.Logger
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) History(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		http.Error(w, "channel_id is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	messages, err := a.coordinator.ListMessages(r.Context(), channelID, limit)
	if err != nil {
		a.logger.Error("history read failed", zap.String("channel_id", channelID), zap.Error(err))
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

func (a *API) Presence(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	p, err := a.tracker.GetPresence(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("presence read failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (a *API) User(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("id")
	if userID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	u, err := a.coordinator.GetUser(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("user read failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "Failed to fetch user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(u)
}

// Members handles /channels/{id}/members.
func (a *API) Members(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) < 4 || pathParts[3] != "members" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	channelID := pathParts[2]

	members, err := a.coordinator.ListMembers(r.Context(), channelID)
	if err != nil {
		a.logger.Error("members read failed", zap.String("channel_id", channelID), zap.Error(err))
		http.Error(w, "Failed to fetch members", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(members)
}
