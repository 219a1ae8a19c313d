package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/sirupsen/logrus"

	"charge_point/ocppclient"
)

const maxBody = 1 << 16

// Stations is the view of the running charge points the API serves.
type Stations interface {
	Names() []string
	Dispatcher(chargePointID string) (*ocppclient.Dispatcher, error)
}

type Server struct {
	Stations Stations
	Log      *logrus.Entry
}

func NewServer(stations Stations, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.WithField("component", "http")
	}
	return &Server{Stations: stations, Log: log}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1/chargepoints", func(r chi.Router) {
		r.Get("/", s.ListChargePoints)
		r.Route("/{chargePointId}", func(r chi.Router) {
			r.Get("/", s.GetChargePoint)
			r.Get("/logs", s.GetLogs)
			r.Get("/pending", s.GetPending)
			r.Get("/limit", s.GetLimit)
			r.Get("/meter", s.GetMeter)
			r.Get("/profiles", s.GetProfiles)
			r.Post("/transactions", s.StartTransaction)
			r.Delete("/transactions", s.StopTransaction)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

type errorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, errorResp{Code: code, Message: message})
}

func (s *Server) dispatcher(w http.ResponseWriter, r *http.Request) *ocppclient.Dispatcher {
	id := chi.URLParam(r, "chargePointId")
	d, err := s.Stations.Dispatcher(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "charge.point.not.found", err.Error())
		return nil
	}
	return d
}

func (s *Server) ListChargePoints(w http.ResponseWriter, r *http.Request) {
	out := []ocppclient.Snapshot{}
	for _, name := range s.Stations.Names() {
		if d, err := s.Stations.Dispatcher(name); err == nil {
			out = append(out, d.Snapshot())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GetChargePoint(w http.ResponseWriter, r *http.Request) {
	if d := s.dispatcher(w, r); d != nil {
		writeJSON(w, http.StatusOK, d.Snapshot())
	}
}

func (s *Server) GetLogs(w http.ResponseWriter, r *http.Request) {
	if d := s.dispatcher(w, r); d != nil {
		writeJSON(w, http.StatusOK, d.Logs())
	}
}

func (s *Server) GetPending(w http.ResponseWriter, r *http.Request) {
	if d := s.dispatcher(w, r); d != nil {
		writeJSON(w, http.StatusOK, d.Pending())
	}
}

type limitResp struct {
	Applied   float64                      `json:"applied"`
	Composite ocppclient.CompositeLimit    `json:"composite"`
	Profiles  []ocppclient.ChargingProfile `json:"profiles"`
}

func (s *Server) GetLimit(w http.ResponseWriter, r *http.Request) {
	if d := s.dispatcher(w, r); d != nil {
		writeJSON(w, http.StatusOK, limitResp{
			Applied:   d.Limit(),
			Composite: d.CompositeLimit(),
			Profiles:  d.Profiles(),
		})
	}
}

type meterResp struct {
	EnergyWh string                    `json:"energyWh"`
	Sessions []ocppclient.MeterSession `json:"sessions"`
}

func (s *Server) GetMeter(w http.ResponseWriter, r *http.Request) {
	if d := s.dispatcher(w, r); d != nil {
		writeJSON(w, http.StatusOK, meterResp{EnergyWh: d.CurrentEnergyWh(), Sessions: d.MeterSessions()})
	}
}

func (s *Server) GetProfiles(w http.ResponseWriter, r *http.Request) {
	if d := s.dispatcher(w, r); d != nil {
		writeJSON(w, http.StatusOK, d.Profiles())
	}
}

type startReq struct {
	IdTag string `json:"idTag"`
}

type stopReq struct {
	Reason core.Reason `json:"reason"`
}

type sentResp struct {
	MessageID string `json:"messageId"`
}

func (s *Server) StartTransaction(w http.ResponseWriter, r *http.Request) {
	d := s.dispatcher(w, r)
	if d == nil {
		return
	}
	var req startReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil || req.IdTag == "" {
		writeError(w, http.StatusBadRequest, "start.transaction.payload.not.valid", "idTag is required")
		return
	}
	id, err := d.StartTransaction(req.IdTag)
	s.sent(w, id, err)
}

func (s *Server) StopTransaction(w http.ResponseWriter, r *http.Request) {
	d := s.dispatcher(w, r)
	if d == nil {
		return
	}
	var req stopReq
	// the body is optional
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req)
	if req.Reason == "" {
		req.Reason = core.ReasonLocal
	}
	id, err := d.StopTransaction(req.Reason)
	s.sent(w, id, err)
}

func (s *Server) sent(w http.ResponseWriter, id string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, sentResp{MessageID: id})
	case errors.Is(err, ocppclient.ErrTransactionActive), errors.Is(err, ocppclient.ErrNoActiveTransaction),
		errors.Is(err, ocppclient.ErrTransactionStopping):
		writeError(w, http.StatusConflict, "transaction.state.conflict", err.Error())
	case errors.Is(err, ocppclient.ErrIdTagBlocked):
		writeError(w, http.StatusForbidden, "id.tag.blocked", err.Error())
	default:
		s.Log.Errorf("request not sent: %v", err)
		writeError(w, http.StatusBadGateway, "message.not.send", err.Error())
	}
}
