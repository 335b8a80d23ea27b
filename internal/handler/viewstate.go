package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/display"
	"github.com/chatview/internal/view"
)

// ViewStateHandler projects the Session's read surface and intents over
// HTTP for the presentation layer.
type ViewStateHandler struct {
	session *view.Session
}

func NewViewStateHandler(session *view.Session) *ViewStateHandler {
	return &ViewStateHandler{session: session}
}

// GetChats returns the derived chat list, newest activity first.
func (h *ViewStateHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.ChatList())
}

// GetFeed returns the active chat's feed grouped by date.
func (h *ViewStateHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.ActiveFeed())
}

// GetStatus returns last-known-good load times, the staleness indicator.
func (h *ViewStateHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

type selectChatRequest struct {
	ChatID string `json:"chat_id"`
}

// SelectChat switches the active feed; an empty chat_id deselects.
func (h *ViewStateHandler) SelectChat(w http.ResponseWriter, r *http.Request) {
	var req selectChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.session.SelectChat(r.Context(), req.ChatID); err != nil {
		writeNetworkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.ActiveFeed())
}

// RefreshChats re-runs the chat-list load (the manual recovery path).
func (h *ViewStateHandler) RefreshChats(w http.ResponseWriter, r *http.Request) {
	if err := h.session.RefreshChatList(r.Context()); err != nil {
		writeNetworkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.ChatList())
}

// RefreshFeed re-runs the feed load for the selected chat.
func (h *ViewStateHandler) RefreshFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.session.RefreshActiveFeed(r.Context()); err != nil {
		writeNetworkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.ActiveFeed())
}

// GetTagColors returns the fixed tag-to-color table for badge rendering.
func (h *ViewStateHandler) GetTagColors(w http.ResponseWriter, r *http.Request) {
	tags := display.Vocabulary()
	colors := make(map[string]string, len(tags))
	for _, t := range tags {
		colors[t] = display.TagColor(t)
	}
	writeJSON(w, http.StatusOK, colors)
}

// writeNetworkError maps a failed reload to 502; the previous snapshot
// stays served on the read endpoints.
func writeNetworkError(w http.ResponseWriter, err error) {
	var netErr *backend.NetworkError
	if errors.As(err, &netErr) {
		writeError(w, http.StatusBadGateway, "backend unavailable, showing last known state")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
