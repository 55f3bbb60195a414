package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/store"
	"github.com/flamechat/internal/store/postgres"
	"github.com/flamechat/internal/wire"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// Handler serves the row API and the realtime endpoint. Every successful
// write is followed by a change frame on the bus; readers of the websocket
// see it after the row is durably stored, never before.
type Handler struct {
	repos          *postgres.Repos
	hub            *Hub
	bus            *Bus
	allowedOrigins string
}

func NewHandler(repos *postgres.Repos, hub *Hub, bus *Bus, allowedOrigins string) *Handler {
	return &Handler{
		repos:          repos,
		hub:            hub,
		bus:            bus,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

// Routes mounts the row API and the websocket endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/messages", h.listMessages)
	r.Post("/api/messages", h.insertMessage)
	r.Get("/api/messages/{id}", h.getMessage)

	r.Get("/api/rooms", h.listRooms)
	r.Post("/api/rooms", h.insertRoom)
	r.Get("/api/rooms/{id}", h.getRoom)
	r.Get("/api/rooms/code/{code}", h.getRoomByCode)

	r.Post("/api/polls", h.insertPoll)
	r.Get("/api/polls/{id}", h.getPoll)
	r.Get("/api/polls/{id}/votes", h.listVotes)
	r.Put("/api/polls/{id}/votes", h.upsertVote)
	r.Delete("/api/polls/{id}/votes/{username}", h.deleteVote)

	r.Get("/ws", h.serveWS)
}

func (h *Handler) publishChange(ctx context.Context, topic string, kind realtime.Kind, row any) {
	raw, err := json.Marshal(row)
	if err != nil {
		logger.Errorf("marshal change row: %v", err)
		return
	}
	if err := h.bus.Publish(ctx, wire.BusFrame{
		Type:  wire.FrameChange,
		Topic: topic,
		Kind:  string(kind),
		Row:   raw,
	}); err != nil {
		logger.Errorf("bus publish change: %v", err)
	}
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	scope := store.Scope{RoomID: r.URL.Query().Get("room_id")}
	limit := queryInt(r, "limit", 100)
	msgs, err := h.repos.Messages.List(r.Context(), scope, limit)
	if err != nil {
		logger.Errorf("list messages: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.repos.Messages.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		logger.Errorf("get message: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) insertMessage(w http.ResponseWriter, r *http.Request) {
	var m model.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if m.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	if err := h.repos.Messages.Insert(r.Context(), &m); err != nil {
		logger.Errorf("insert message: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	h.publishChange(r.Context(), wire.TopicMessages, realtime.KindInsert, &m)
	writeJSON(w, http.StatusCreated, &m)
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	rooms, err := h.repos.Rooms.List(r.Context(), limit)
	if err != nil {
		logger.Errorf("list rooms: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := h.repos.Rooms.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		logger.Errorf("get room: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

func (h *Handler) getRoomByCode(w http.ResponseWriter, r *http.Request) {
	rm, err := h.repos.Rooms.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		logger.Errorf("get room by code: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

func (h *Handler) insertRoom(w http.ResponseWriter, r *http.Request) {
	var rm model.Room
	if err := json.NewDecoder(r.Body).Decode(&rm); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if rm.Name == "" || rm.Code == "" {
		writeError(w, http.StatusBadRequest, "name and code required")
		return
	}
	if err := h.repos.Rooms.Insert(r.Context(), &rm); err != nil {
		logger.Errorf("insert room: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	h.publishChange(r.Context(), wire.TopicRooms, realtime.KindInsert, &rm)
	writeJSON(w, http.StatusCreated, &rm)
}

func (h *Handler) getPoll(w http.ResponseWriter, r *http.Request) {
	p, err := h.repos.Polls.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "poll not found")
		return
	}
	if err != nil {
		logger.Errorf("get poll: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) insertPoll(w http.ResponseWriter, r *http.Request) {
	var p model.Poll
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if p.Question == "" || len(p.Options) < 2 {
		writeError(w, http.StatusBadRequest, "question and at least two options required")
		return
	}
	if err := h.repos.Polls.Insert(r.Context(), &p); err != nil {
		logger.Errorf("insert poll: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (h *Handler) listVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.repos.Votes.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		logger.Errorf("list votes: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

func (h *Handler) upsertVote(w http.ResponseWriter, r *http.Request) {
	var v model.PollVote
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	v.PollID = chi.URLParam(r, "id")
	if v.Username == "" || v.OptionID == "" {
		writeError(w, http.StatusBadRequest, "username and option_id required")
		return
	}
	row, inserted, err := h.repos.Votes.Upsert(r.Context(), &v)
	if err != nil {
		logger.Errorf("upsert vote: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	kind := realtime.KindUpdate
	if inserted {
		kind = realtime.KindInsert
	}
	h.publishChange(r.Context(), wire.VotesTopic(row.PollID), kind, row)
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) deleteVote(w http.ResponseWriter, r *http.Request) {
	pollID := chi.URLParam(r, "id")
	username := chi.URLParam(r, "username")
	row, ok, err := h.repos.Votes.Delete(r.Context(), pollID, username)
	if err != nil {
		logger.Errorf("delete vote: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if ok {
		h.publishChange(r.Context(), wire.VotesTopic(pollID), realtime.KindDelete, row)
	}
	// Deleting a missing vote is not an error; revoke is idempotent.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(h.hub, conn)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
