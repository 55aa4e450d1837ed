package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/example/parkswap/internal/geo"
	"github.com/example/parkswap/internal/lifecycle"
	"github.com/example/parkswap/internal/localstate"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/storage"
)

// alertView is an alert plus the countdown fields screens render.
type alertView struct {
	*models.Alert
	WaitUntil        time.Time `json:"wait_until"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	DistanceMeters   *float64  `json:"distance_m,omitempty"`
}

func (s *Server) view(r *http.Request, a *models.Alert) alertView {
	ctx := r.Context()
	return alertView{
		Alert:            a,
		WaitUntil:        s.life.WaitUntil(ctx, a),
		RemainingSeconds: int64(s.life.Remaining(ctx, a).Seconds()),
	}
}

type actorBody struct {
	ActorID string `json:"actor_id"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.PublishInput
	if !decode(w, r, &in) {
		return
	}
	a, err := s.life.Publish(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(r, a))
}

// handleListAlerts serves three shapes: ?owner_id=, ?buyer_id= and the nearby
// browse ?lat=&lng=&radius_m=[&viewer_id=].
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.Get("lat") != "" || q.Get("lng") != "" {
		s.browse(w, r, statuses)
		return
	}
	f := storage.AlertFilter{OwnerID: q.Get("owner_id"), BuyerID: q.Get("buyer_id"), Statuses: statuses}
	if f.OwnerID == "" && f.BuyerID == "" {
		s.writeError(w, r, errors.Join(models.ErrInvalidInput, errors.New("owner_id, buyer_id or lat/lng is required")))
		return
	}
	alerts, err := s.store.FilterAlerts(r.Context(), f)
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	out := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, s.view(r, a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) browse(w http.ResponseWriter, r *http.Request, statuses []models.AlertStatus) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		s.writeError(w, r, errors.Join(models.ErrInvalidInput, errors.New("lat and lng must be numbers")))
		return
	}
	radius := 1000.0
	if v := q.Get("radius_m"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			s.writeError(w, r, errors.Join(models.ErrInvalidInput, errors.New("radius_m must be > 0")))
			return
		}
		radius = f
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if len(statuses) == 0 {
		statuses = []models.AlertStatus{models.StatusActive}
	}
	alerts, err := s.store.FilterAlerts(r.Context(), storage.AlertFilter{Statuses: statuses})
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}

	viewer := q.Get("viewer_id")
	visible := alerts[:0]
	for _, a := range alerts {
		if viewer != "" {
			if a.OwnedBy(viewer) {
				continue
			}
			hidden, err := s.hidden.IsHidden(r.Context(), viewer, a.ID)
			if err != nil {
				s.logger.Warn("hidden lookup failed", "user_id", viewer, "alert_id", a.ID, "error", err)
			}
			if hidden {
				continue
			}
		}
		if a.Status == models.StatusActive && s.life.Remaining(r.Context(), a) <= 0 {
			continue
		}
		visible = append(visible, a)
	}

	ranked := geo.WithinRadius(models.Coord{Lat: lat, Lon: lng}, radius, visible, limit)
	out := make([]alertView, 0, len(ranked))
	for _, rk := range ranked {
		v := s.view(r, rk.Alert)
		d := rk.DistanceMeters
		v.DistanceMeters = &d
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, s.view(r, a))
}

func (s *Server) handleRemaining(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	v := s.view(r, a)
	writeJSON(w, http.StatusOK, map[string]any{
		"alert_id":          a.ID,
		"status":            a.Status,
		"wait_until":        v.WaitUntil,
		"remaining_seconds": v.RemainingSeconds,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body actorBody
	if !decode(w, r, &body) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.life.Cancel(r.Context(), id, body.ActorID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetAlert(w, r)
}

// handleComplete is the owner's "I have left" confirmation.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body actorBody
	if !decode(w, r, &body) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.life.Complete(r.Context(), id, lifecycle.ReasonOwnerConfirmed, body.ActorID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetAlert(w, r)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var buyer models.Buyer
	if !decode(w, r, &buyer) {
		return
	}
	req, err := s.matcher.Request(r.Context(), mux.Vars(r)["id"], buyer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.matcher.Requests(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body actorBody
	if !decode(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	var (
		req *models.ReservationRequest
		err error
	)
	switch vars["action"] {
	case "accept":
		req, err = s.matcher.Accept(r.Context(), vars["id"], body.ActorID)
	case "reject":
		req, err = s.matcher.Reject(r.Context(), vars["id"], body.ActorID)
	case "think":
		req, err = s.matcher.Think(r.Context(), vars["id"], body.ActorID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var p models.Position
	if !decode(w, r, &p) {
		return
	}
	if p.UserID == "" {
		s.writeError(w, r, errors.Join(models.ErrInvalidInput, errors.New("user_id is required")))
		return
	}
	if p.Updated.IsZero() {
		p.Updated = s.life.Clock().Now().UTC()
	}
	// publish to kafka if configured
	if s.locations != nil {
		if err := s.locations.PublishLocation(r.Context(), p); err != nil {
			s.logger.Warn("location publish failed", "user_id", p.UserID, "error", err)
		}
	}
	if err := s.tracker.Upsert(r.Context(), p); err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ledgerView struct {
	UserID              string          `json:"user_id"`
	Balance             decimal.Decimal `json:"balance"`
	BanUntil            *time.Time      `json:"ban_until,omitempty"`
	Banned              bool            `json:"banned"`
	ExtraCommissionNext bool            `json:"extra_commission_next"`
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	l := s.life.Ledger()
	e := l.Entry(userID)
	writeJSON(w, http.StatusOK, ledgerView{
		UserID:              userID,
		Balance:             e.Balance,
		BanUntil:            e.BanUntil,
		Banned:              l.IsBanned(userID),
		ExtraCommissionNext: e.ExtraCommissionNext,
	})
}

type historyItem struct {
	*models.Alert
	FinalizedAt time.Time `json:"finalized_at"`
	Role        string    `json:"role"`
}

// handleHistory lists the user's finished alerts, newest first by the local
// Finalized-At stamp.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := mux.Vars(r)["user_id"]
	terminal := []models.AlertStatus{models.StatusCompleted, models.StatusCancelled, models.StatusExpired}

	owned, err := s.store.FilterAlerts(ctx, storage.AlertFilter{OwnerID: userID, Statuses: terminal})
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	bought, err := s.store.FilterAlerts(ctx, storage.AlertFilter{BuyerID: userID, Statuses: terminal})
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}

	seen := make(map[string]bool)
	items := make([]historyItem, 0, len(owned)+len(bought))
	add := func(a *models.Alert, role string) {
		if seen[a.ID] {
			return
		}
		seen[a.ID] = true
		at := localstate.OrderingTime(ctx, s.life.Stamps(), a.ID, a.UpdatedAt)
		items = append(items, historyItem{Alert: a, FinalizedAt: at, Role: role})
	}
	for _, a := range owned {
		add(a, "seller")
	}
	for _, a := range bought {
		add(a, "buyer")
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].FinalizedAt.After(items[j].FinalizedAt) })
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleHide(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.hidden.Hide(r.Context(), vars["user_id"], vars["alert_id"]); err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHidden(w http.ResponseWriter, r *http.Request) {
	ids, err := s.hidden.List(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"alert_ids": ids})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.FilterNotifications(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	if r.URL.Query().Get("unread") == "true" {
		unread := notes[:0]
		for _, n := range notes {
			if !n.Read {
				unread = append(unread, n)
			}
		}
		notes = unread
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.UserID == "" {
		s.writeError(w, r, errors.Join(models.ErrInvalidInput, errors.New("user_id is required")))
		return
	}
	id := mux.Vars(r)["id"]
	notes, err := s.store.FilterNotifications(r.Context(), body.UserID)
	if err != nil {
		s.writeError(w, r, storeErr(err))
		return
	}
	for _, n := range notes {
		if n.ID != id {
			continue
		}
		n.Read = true
		if err := s.store.UpdateNotification(r.Context(), n); err != nil {
			s.writeError(w, r, storeErr(err))
			return
		}
		writeJSON(w, http.StatusOK, n)
		return
	}
	s.writeError(w, r, models.ErrNotFound)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "user_id", id, "error", err)
		return
	}
	remove := s.wsReg.Add(id, conn)
	s.logger.Info("ws session opened", "user_id", id)
	// screens only listen; reading detects the close
	go func() {
		defer func() {
			remove()
			_ = conn.Close()
			s.logger.Info("ws session closed", "user_id", id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func parseStatuses(v string) ([]models.AlertStatus, error) {
	if v == "" {
		return nil, nil
	}
	var out []models.AlertStatus
	for _, raw := range strings.Split(v, ",") {
		st := models.AlertStatus(strings.TrimSpace(raw))
		switch st {
		case models.StatusActive, models.StatusReserved, models.StatusCompleted, models.StatusCancelled, models.StatusExpired:
			out = append(out, st)
		default:
			return nil, errors.Join(models.ErrInvalidInput, errors.New("unknown status "+string(st)))
		}
	}
	return out, nil
}
