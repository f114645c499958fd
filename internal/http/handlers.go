// Package httpapi exposes the dispatch engine over REST and websockets.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
)

// LocationPublisher is the mirror sink for accepted location reports,
// normally an events.LocationProducer.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
}

type Server struct {
	Coord *dispatch.Coordinator
	WSReg *notify.WSRegistry
	// Locations mirrors accepted location reports onto Kafka when set.
	Locations LocationPublisher

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(coord *dispatch.Coordinator, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{Coord: coord, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/{ride_id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/reject", s.handleReject).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/arrived", s.handleArrived).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/otp", s.handleRideOTP).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/verify-otp", s.handleVerifyOTP).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/distance", s.handleDistance).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/no-show", s.handleNoShow).Methods("POST")

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}", s.handleGetDriver).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/online", s.handleGoOnline).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/offline", s.handleGoOffline).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/location", s.handleLocation).Methods("POST")

	admin := s.mux.PathPrefix("/admin/v1").Subrouter()
	admin.HandleFunc("/drivers/{driver_id}/block", s.handleBlock).Methods("POST")
	admin.HandleFunc("/drivers/{driver_id}/unblock", s.handleUnblock).Methods("POST")
	admin.HandleFunc("/rides/{ride_id}/redispatch", s.handleRedispatch).Methods("POST")

	s.mux.HandleFunc("/ws/drivers/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/riders/{rider_id}", s.handleRiderWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type coordPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c coordPayload) toModel() models.Coord { return models.Coord{Lat: c.Lat, Lng: c.Lng} }

type createRideRequest struct {
	RiderID string       `json:"rider_id"`
	Pickup  coordPayload `json:"pickup"`
	Drop    coordPayload `json:"drop"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RiderID == "" {
		badRequest(w, "rider_id is required")
		return
	}
	ride, err := s.Coord.CreateRide(r.Context(), req.RiderID, req.Pickup.toModel(), req.Drop.toModel())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Coord.GetRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type driverActionRequest struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req driverActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ride, err := s.Coord.Accept(r.Context(), mux.Vars(r)["ride_id"], req.DriverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req driverActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Coord.Reject(r.Context(), mux.Vars(r)["ride_id"], req.DriverID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArrived(w http.ResponseWriter, r *http.Request) {
	var req driverActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ride, err := s.Coord.MarkArrived(r.Context(), mux.Vars(r)["ride_id"], req.DriverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideOTP(w http.ResponseWriter, r *http.Request) {
	riderID := r.URL.Query().Get("rider_id")
	if riderID == "" {
		badRequest(w, "rider_id is required")
		return
	}
	code, err := s.Coord.RideOTP(r.Context(), mux.Vars(r)["ride_id"], riderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

type verifyOTPRequest struct {
	RiderID string `json:"rider_id"`
	Code    string `json:"code"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ride, err := s.Coord.VerifyOTP(r.Context(), mux.Vars(r)["ride_id"], req.RiderID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type distanceRequest struct {
	DeltaKm float64 `json:"delta_km"`
}

func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	var req distanceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DeltaKm < 0 {
		badRequest(w, "delta_km must be >= 0")
		return
	}
	if err := s.Coord.RecordDistance(r.Context(), mux.Vars(r)["ride_id"], req.DeltaKm); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req driverActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ride, err := s.Coord.Complete(r.Context(), mux.Vars(r)["ride_id"], req.DriverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type cancelRequest struct {
	By models.CancelledBy `json:"by"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	switch req.By {
	case models.CancelledByRider, models.CancelledByDriver, models.CancelledBySystem:
	default:
		badRequest(w, "by must be RIDER, DRIVER or SYSTEM")
		return
	}
	ride, err := s.Coord.Cancel(r.Context(), mux.Vars(r)["ride_id"], req.By)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleNoShow(w http.ResponseWriter, r *http.Request) {
	var req driverActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ride, err := s.Coord.MarkNoShow(r.Context(), mux.Vars(r)["ride_id"], req.DriverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type registerDriverRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		badRequest(w, "user_id is required")
		return
	}
	driver, err := s.Coord.RegisterDriver(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, driver)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	driver, err := s.Coord.GetDriver(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleGoOnline(w http.ResponseWriter, r *http.Request) {
	var req coordPayload
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	driver, err := s.Coord.GoOnline(r.Context(), mux.Vars(r)["driver_id"], req.toModel())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleGoOffline(w http.ResponseWriter, r *http.Request) {
	driver, err := s.Coord.GoOffline(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req coordPayload
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	driverID := mux.Vars(r)["driver_id"]
	driver, err := s.Coord.UpdateLocation(r.Context(), driverID, req.toModel())
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Locations != nil {
		loc := models.DriverLocation{
			DriverID: driverID,
			Lat:      req.Lat,
			Lng:      req.Lng,
			Online:   driver.Status == models.DriverOnline,
			Updated:  time.Now().UTC(),
		}
		if err := s.Locations.PublishLocation(r.Context(), loc); err != nil {
			s.logger.Warn("location publish failed", "driver_id", driverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	driver, err := s.Coord.BlockDriver(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	driver, err := s.Coord.UnblockDriver(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleRedispatch(w http.ResponseWriter, r *http.Request) {
	if err := s.Coord.ForceRedispatch(r.Context(), mux.Vars(r)["ride_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.AddDriver(id, conn)
}

func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["rider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.AddRider(id, conn)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &malformedError{err}
	}
	return nil
}

type malformedError struct{ err error }

func (m *malformedError) Error() string { return "malformed request body: " + m.err.Error() }

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses. Transition conflicts are
// 409 so clients can distinguish a lost race from a bad request.
func writeError(w http.ResponseWriter, err error) {
	var me *malformedError
	var otpErr *models.OtpError
	switch {
	case errors.As(err, &me):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case models.IsInvalidTransition(err),
		errors.Is(err, models.ErrActiveRide),
		errors.Is(err, models.ErrDriverHasActiveRide),
		errors.Is(err, dispatch.ErrNoShowTooEarly):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &otpErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
