package httpapi

import (
	"net/http"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// Status is the view of the engine the API exposes.
type Status interface {
	SubscribedEvents() []subscription.EventRef
	KeyCount() int
	Healthy() (bool, string)
}

// Handlers contains the HTTP handlers for the API endpoints
type Handlers struct {
	status Status
}

// NewHandlers creates a new handlers instance
func NewHandlers(status Status) *Handlers {
	return &Handlers{status: status}
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	healthy, message := h.status.Healthy()
	resp := HealthResponse{
		Healthy:     healthy,
		Listeners:   h.status.KeyCount(),
		Subscribers: len(h.status.SubscribedEvents()),
		Message:     message,
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, code)
}

// AdminListSubscriptions handles GET /api/v1/admin/subscriptions
func (h *Handlers) AdminListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	refs := h.status.SubscribedEvents()
	subs := make([]SubscriptionInfo, len(refs))
	for i, ref := range refs {
		subs[i] = SubscriptionInfo{Address: ref.Address, Type: ref.Type}
	}

	writeJSON(w, AdminSubscriptionsResponse{
		Subscriptions: subs,
		Listeners:     h.status.KeyCount(),
	}, http.StatusOK)
}
