package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// WebhookNotifier posts offers and ride updates to an external push gateway
// (FCM relay or similar) for drivers without a live socket. Best-effort by
// contract; responses are discarded.
type WebhookNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
	WS       *WSRegistry // tried first when present
}

func NewWebhookNotifier(endpoint, key string, ws *WSRegistry) *WebhookNotifier {
	return &WebhookNotifier{
		Endpoint: endpoint,
		Key:      key,
		Client:   &http.Client{Timeout: 3 * time.Second},
		WS:       ws,
	}
}

func (w *WebhookNotifier) OfferRide(driverID string, offer models.Offer) error {
	if w.WS != nil {
		if err := w.WS.OfferRide(driverID, offer); err == nil {
			return nil
		}
	}
	w.post(map[string]any{"driver_id": driverID, "type": "ride_request", "offer": offer})
	return nil
}

func (w *WebhookNotifier) RideChanged(ride *models.Ride, event string) {
	if w.WS != nil {
		w.WS.RideChanged(ride, event)
	}
	w.post(map[string]any{"ride_id": ride.ID, "type": event, "status": ride.Status})
}

func (w *WebhookNotifier) post(payload map[string]any) {
	if w.Endpoint == "" {
		return
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Key != "" {
		req.Header.Set("Authorization", "Bearer "+w.Key)
	}
	resp, err := w.Client.Do(req)
	if err == nil {
		_ = resp.Body.Close()
	}
}
