package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kit-dsn/pfennigfuchs/internal/account"
	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
	"github.com/kit-dsn/pfennigfuchs/internal/models"
	"github.com/kit-dsn/pfennigfuchs/internal/state"
	"github.com/kit-dsn/pfennigfuchs/internal/transport"
)

const me = "@me:me.com"

type request struct {
	Method string
	Path   string
	Query  url.Values
	Body   json.RawMessage
}

// fakeHomeserver serves queued /sync responses and paged room history and
// records every other request.
type fakeHomeserver struct {
	mu            sync.Mutex
	syncs         []*models.SyncResponse
	syncErr       func(w http.ResponseWriter) bool
	syncQuery     []url.Values
	history       map[string][]models.ClientEvent
	historyStatus map[string]int // non-200 status served for a room's /messages
	marks         map[string]int
	pageSize      int
	joinStatus    int
	profile       *models.Profile
	requests      []request
	syncGate      chan struct{}
}

func newFakeHomeserver() *fakeHomeserver {
	return &fakeHomeserver{
		history:       make(map[string][]models.ClientEvent),
		marks:         make(map[string]int),
		pageSize:      3,
		joinStatus:    http.StatusOK,
		historyStatus: make(map[string]int),
	}
}

func (f *fakeHomeserver) queueSync(resp *models.SyncResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, resp)
}

func (f *fakeHomeserver) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body})
}

// find returns recorded requests whose method matches and whose path contains fragment.
func (f *fakeHomeserver) find(method, fragment string) []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []request
	for _, r := range f.requests {
		if r.Method == method && strings.Contains(r.Path, fragment) {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"errcode": "M_NOT_FOUND", "error": "not found"})
}

func (f *fakeHomeserver) token(tok string, fallback int) int {
	if i, ok := f.marks[tok]; ok {
		return i
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(tok, "h")); err == nil && strings.HasPrefix(tok, "h") {
		return n
	}
	return fallback
}

func (f *fakeHomeserver) router() http.Handler {
	r := chi.NewRouter()
	r.Route(transport.ClientPrefix, func(r chi.Router) {
		r.Get("/sync", func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			gate := f.syncGate
			f.syncGate = nil
			f.syncQuery = append(f.syncQuery, req.URL.Query())
			f.mu.Unlock()
			if gate != nil {
				close(gate)
				<-req.Context().Done()
				return
			}
			if f.syncErr != nil && f.syncErr(w) {
				return
			}
			f.mu.Lock()
			if len(f.syncs) == 0 {
				f.mu.Unlock()
				writeJSON(w, http.StatusOK, models.SyncResponse{NextBatch: "empty"})
				return
			}
			resp := f.syncs[0]
			f.syncs = f.syncs[1:]
			f.mu.Unlock()
			writeJSON(w, http.StatusOK, resp)
		})

		r.Get("/rooms/{roomID}/messages", func(w http.ResponseWriter, req *http.Request) {
			f.record(req)
			roomID, _ := url.PathUnescape(chi.URLParam(req, "roomID"))
			q := req.URL.Query()

			f.mu.Lock()
			defer f.mu.Unlock()
			if status, ok := f.historyStatus[roomID]; ok {
				writeJSON(w, status, map[string]string{"errcode": "M_UNKNOWN", "error": "boom"})
				return
			}
			history := f.history[roomID]
			from := f.token(q.Get("from"), len(history))
			to := -1
			if q.Get("to") != "" {
				to = f.token(q.Get("to"), -1)
			}
			lo := max(0, from-f.pageSize)
			if to >= 0 && lo < to {
				lo = to
			}
			chunk := slices.Clone(history[lo:from])
			slices.Reverse(chunk)
			resp := models.MessagesResponse{Chunk: chunk, Start: q.Get("from")}
			switch {
			case to >= 0 && lo == to:
				resp.End = q.Get("to")
			case lo > 0:
				resp.End = fmt.Sprintf("h%d", lo)
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Get("/profile/{userID}", func(w http.ResponseWriter, req *http.Request) {
			f.record(req)
			f.mu.Lock()
			p := f.profile
			f.mu.Unlock()
			if p == nil {
				notFound(w)
				return
			}
			writeJSON(w, http.StatusOK, p)
		})

		r.Post("/join/{roomID}", func(w http.ResponseWriter, req *http.Request) {
			f.record(req)
			f.mu.Lock()
			status := f.joinStatus
			f.mu.Unlock()
			switch status {
			case http.StatusOK:
				writeJSON(w, status, map[string]string{"room_id": chi.URLParam(req, "roomID")})
			case http.StatusNotFound:
				notFound(w)
			default:
				writeJSON(w, status, map[string]string{"errcode": "M_UNKNOWN", "error": "boom"})
			}
		})

		r.Post("/createRoom", func(w http.ResponseWriter, req *http.Request) {
			f.record(req)
			writeJSON(w, http.StatusOK, models.CreateRoomResponse{RoomID: "!created:me.com"})
		})

		r.Put("/rooms/{roomID}/send/{type}/{txnID}", func(w http.ResponseWriter, req *http.Request) {
			f.record(req)
			writeJSON(w, http.StatusOK, map[string]string{"event_id": "$sent"})
		})

		r.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
			f.record(req)
			writeJSON(w, http.StatusOK, map[string]string{})
		})
	})
	return r
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) PushMessage(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) PushNotification(text string) {}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.messages)
}

type recordingArchive struct {
	mu       sync.Mutex
	payments map[string][]string
}

func (a *recordingArchive) Append(_ context.Context, roomID string, payments []*models.PaymentMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range payments {
		a.payments[roomID] = append(a.payments[roomID], p.ID)
	}
	return nil
}

type harness struct {
	server   *fakeHomeserver
	driver   *Driver
	state    *state.Reconciler
	ledger   *ledger.Engine
	account  *account.Store
	notifier *recordingNotifier
	archive  *recordingArchive
}

func newHarness(t *testing.T, server *fakeHomeserver) *harness {
	srv := httptest.NewServer(server.router())
	t.Cleanup(srv.Close)

	rec, err := state.NewReconciler(me)
	require.NoError(t, err)
	eng := ledger.NewEngine(rec, nil, zerolog.Nop())
	acc := account.NewStore()
	n := &recordingNotifier{}
	arch := &recordingArchive{payments: make(map[string][]string)}

	d, err := New(Deps{
		Transport: transport.NewClient(srv.URL, "token", srv.Client(), zerolog.Nop()),
		State:     rec,
		Ledger:    eng,
		Account:   acc,
		Notifier:  n,
		Archive:   arch,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return &harness{server: server, driver: d, state: rec, ledger: eng, account: acc, notifier: n, archive: arch}
}

// event builders

var eventSeq int

func nextID() string {
	eventSeq++
	return fmt.Sprintf("$ev%d", eventSeq)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func stateEvent(typ, key, sender string, content any) models.ClientEvent {
	return models.ClientEvent{EventID: nextID(), Type: typ, StateKey: &key, Sender: sender, Content: mustJSON(content)}
}

func productCreate() models.ClientEvent {
	return stateEvent(models.TypeCreate, "", me, models.CreateContent{Pfennigfuchs: true})
}

func workspaceCreate() models.ClientEvent {
	return stateEvent(models.TypeCreate, "", me, models.CreateContent{Pfennigfuchs: true, Type: models.RoomTypeSpace})
}

func member(userID string, membership models.Membership) models.ClientEvent {
	return stateEvent(models.TypeMember, userID, userID, models.MemberContent{Membership: membership, DisplayName: userID})
}

func roomName(name string) models.ClientEvent {
	return stateEvent(models.TypeName, "", me, models.NameContent{Name: name})
}

func paymentEvent(sender, subject string, shares ...models.Share) models.ClientEvent {
	body := mustJSON(models.PaymentPayload{Subject: subject, V: shares})
	return models.ClientEvent{
		EventID: nextID(),
		Type:    models.TypeMessage,
		Sender:  sender,
		Content: mustJSON(models.MessageContent{Body: subject, MsgType: models.MsgTypeText, Format: models.FormatPayment, FormattedBody: string(body)}),
	}
}

func initialEvent(sender string) models.ClientEvent {
	return models.ClientEvent{
		EventID: nextID(),
		Type:    models.TypeMessage,
		Sender:  sender,
		Content: mustJSON(models.MessageContent{Body: initialMarkerBody, MsgType: models.MsgTypeText, Format: models.FormatInitial, FormattedBody: `{"pf_initial":true}`}),
	}
}

func joined(state []models.ClientEvent, timeline ...models.ClientEvent) models.JoinedRoom {
	return models.JoinedRoom{
		State:    models.EventList{Events: state},
		Timeline: models.Timeline{Events: timeline},
	}
}

func accountData(info models.UserInfo) *models.AccountData {
	return &models.AccountData{Events: []models.AccountDataEvent{{
		Type:    models.AccountDataType,
		Content: mustJSON(models.GlobalAccountData{UserInfo: &info, PaymentInfo: map[string]models.PaymentMethod{}}),
	}}}
}
