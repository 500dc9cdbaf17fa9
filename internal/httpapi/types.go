package httpapi

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy     bool   `json:"healthy"`
	Listeners   int    `json:"listeners"`
	Subscribers int    `json:"subscribers"`
	Message     string `json:"message"`
}

// AdminSubscriptionsResponse lists every live subscriber
type AdminSubscriptionsResponse struct {
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
	Listeners     int                `json:"listeners"`
}

// SubscriptionInfo is the {address, type} of one subscriber
type SubscriptionInfo struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
