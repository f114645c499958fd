package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

// WSSession is one connected client socket. Writes are serialized per
// connection as gorilla/websocket requires.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WSRegistry holds driver and rider sessions and implements Notifier.
type WSRegistry struct {
	mu      sync.RWMutex
	drivers map[string]*WSSession
	riders  map[string]*WSSession
	logger  *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{
		drivers: make(map[string]*WSSession),
		riders:  make(map[string]*WSSession),
		logger:  logger,
	}
}

func (r *WSRegistry) AddDriver(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) AddRider(riderID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.riders[riderID] = &WSSession{conn: conn}
}

func (r *WSRegistry) RemoveDriver(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drivers, driverID)
}

func (r *WSRegistry) RemoveRider(riderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.riders, riderID)
}

func (r *WSRegistry) OfferRide(driverID string, offer models.Offer) error {
	r.mu.RLock()
	s, ok := r.drivers[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(wsEvent{Type: "ride_request", Data: offer}); err != nil {
		r.logger.Warn("ws offer send failed", "driver_id", driverID, "error", err)
		return err
	}
	return nil
}

func (r *WSRegistry) RideChanged(ride *models.Ride, event string) {
	payload := wsEvent{Type: event, Data: ride}
	r.mu.RLock()
	rider := r.riders[ride.RiderID]
	var driver *WSSession
	if ride.DriverID != "" {
		driver = r.drivers[ride.DriverID]
	}
	r.mu.RUnlock()

	if rider != nil {
		if err := rider.send(payload); err != nil {
			r.logger.Warn("ws ride update failed", "rider_id", ride.RiderID, "error", err)
		}
	}
	if driver != nil {
		if err := driver.send(payload); err != nil {
			r.logger.Warn("ws ride update failed", "driver_id", ride.DriverID, "error", err)
		}
	}
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
