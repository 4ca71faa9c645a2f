package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kit-dsn/pfennigfuchs/internal/changefeed"
	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
	"github.com/kit-dsn/pfennigfuchs/internal/models"
	"github.com/kit-dsn/pfennigfuchs/internal/repositories"
	"github.com/kit-dsn/pfennigfuchs/internal/state"
)

const (
	roomContextKey contextKey = "room_id"

	defaultWait = 30 * time.Second
	maxWait     = 60 * time.Second
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	state         *state.Reconciler
	ledger        *ledger.Engine
	feed          *changefeed.Feed
	sync          SyncStatus
	archive       repositories.LedgerArchive
	changes       repositories.ChangePublisher
	notifications repositories.NotificationSink
	checks        map[string]HealthCheck
	logger        zerolog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		state:         deps.State,
		ledger:        deps.Ledger,
		feed:          deps.Feed,
		sync:          deps.Sync,
		archive:       deps.Archive,
		changes:       deps.Changes,
		notifications: deps.Notifications,
		checks:        deps.Checks,
		logger:        deps.Logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// RequireRoom resolves the {roomID} parameter and answers 404 for rooms that
// are not product rooms.
func (h *Handler) RequireRoom(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID, err := url.PathUnescape(chi.URLParam(r, "roomID"))
		if err != nil || !h.state.IsProductRoom(roomID) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		ctx := context.WithValue(r.Context(), roomContextKey, roomID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func roomFrom(r *http.Request) string {
	roomID, _ := r.Context().Value(roomContextKey).(string)
	return roomID
}

type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	if h.sync != nil && h.sync.Cursor() != "" {
		checks["sync"] = Check{Status: "pass"}
	} else {
		checks["sync"] = Check{Status: "fail", Message: "no completed sync round"}
		allHealthy = false
	}

	for name, check := range h.checks {
		start := time.Now()
		if err := check(ctx); err != nil {
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !allHealthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type roomView struct {
	RoomID      string `json:"room_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	OneOnOne    bool   `json:"one_on_one"`
	Members     int    `json:"members"`
	FullHistory bool   `json:"full_history"`
	MyBalance   string `json:"my_balance"`
}

func (h *Handler) roomView(roomID string) roomView {
	return roomView{
		RoomID:      roomID,
		Name:        h.state.DisplayName(roomID),
		Description: h.state.RoomDescription(roomID),
		AvatarURL:   h.state.RoomAvatar(roomID),
		OneOnOne:    h.state.IsOneOnOne(roomID),
		Members:     len(h.state.JoinedMembers(roomID)),
		FullHistory: h.ledger.HasFullHistory(roomID),
		MyBalance:   h.ledger.Balance(roomID, h.state.MyID()),
	}
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.state.ProductRooms()
	out := make([]roomView, 0, len(rooms))
	for _, id := range rooms {
		out = append(out, h.roomView(id))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.roomView(roomFrom(r)))
}

func (h *Handler) Balances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.SortedBalances(roomFrom(r)))
}

type debtsResponse struct {
	Members []string   `json:"members"`
	Cells   [][]string `json:"cells"`
}

func (h *Handler) Debts(w http.ResponseWriter, r *http.Request) {
	m := h.ledger.ReduceDebts(roomFrom(r))
	writeJSON(w, http.StatusOK, debtsResponse{Members: m.Members, Cells: m.Formatted()})
}

func (h *Handler) Settlement(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.ledger.SimpleOptimize(roomFrom(r))
	if errors.Is(err, ledger.ErrUnknownMember) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomFrom(r)).Msg("failed to optimize settlement")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

type shareView struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type entryView struct {
	EventID   string      `json:"event_id"`
	Sender    string      `json:"sender"`
	Subject   string      `json:"subject"`
	Total     string      `json:"total"`
	Shares    []shareView `json:"shares"`
	Timestamp int64       `json:"origin_server_ts"`
}

func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	payments := h.ledger.Payments(roomFrom(r))
	out := make([]entryView, 0, len(payments))
	for _, p := range payments {
		shares := make([]shareView, 0, len(p.Payment.V))
		for _, s := range p.Payment.V {
			shares = append(shares, shareView{User: s.User, Amount: s.Amount.StringFixed(2)})
		}
		out = append(out, entryView{
			EventID:   p.ID,
			Sender:    p.ActingSender(),
			Subject:   p.Payment.Subject,
			Total:     ledger.CalcTotalAmount(p),
			Shares:    shares,
			Timestamp: p.OriginServerTS,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type memberView struct {
	UserID      string                          `json:"user_id"`
	DisplayName string                          `json:"display_name"`
	Membership  models.Membership               `json:"membership"`
	Balance     string                          `json:"balance"`
	Contact     *models.UserInfo                `json:"contact,omitempty"`
	PaymentInfo map[string]models.PaymentMethod `json:"payment_info,omitempty"`
}

func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	roomID := roomFrom(r)
	members := h.state.Members(roomID)
	out := make([]memberView, 0, len(members))
	for _, id := range members {
		v := memberView{
			UserID:      id,
			DisplayName: h.state.MemberDisplayName(roomID, id),
			Balance:     h.ledger.Balance(roomID, id),
		}
		if ev, ok := h.state.MemberEvent(roomID, id); ok {
			v.Membership = ev.Content.Membership
		}
		if info, ok := h.state.ContactInfo(roomID, id); ok {
			v.Contact = &info
		}
		if pi, ok := h.state.PaymentInfo(roomID, id); ok {
			v.PaymentInfo = pi
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.AllContacts())
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	payments, err := h.archive.ListByRoom(r.Context(), roomFrom(r), limit)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomFrom(r)).Msg("failed to list archive")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if payments == nil {
		payments = []*models.ArchivedPayment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) LastChange(w http.ResponseWriter, r *http.Request) {
	if h.changes == nil {
		writeError(w, http.StatusServiceUnavailable, "change mirror not configured")
		return
	}
	change, err := h.changes.LastChanged(r.Context(), roomFrom(r))
	if errors.Is(err, repositories.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no recent change")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomFrom(r)).Msg("failed to get last change")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// Wait long-polls until the room changes. It answers 204 when the timeout
// passes without a change.
func (h *Handler) Wait(w http.ResponseWriter, r *http.Request) {
	timeout := defaultWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = min(d, maxWait)
	}

	changed, unsubscribe := h.feed.Subscribe(roomFrom(r))
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-changed:
		writeJSON(w, http.StatusOK, map[string]bool{"changed": true})
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		writeError(w, http.StatusServiceUnavailable, "notification store not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.notifications.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list notifications")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}
