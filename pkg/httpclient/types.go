package httpclient

import "time"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the admin API (e.g., "http://localhost:8080")
	ServerURL string

	// Token is an admin JWT; required for the admin endpoints only
	Token string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy     bool   `json:"healthy"`
	Listeners   int    `json:"listeners"`
	Subscribers int    `json:"subscribers"`
	Message     string `json:"message"`
}

// SubscriptionInfo is the {address, type} of one live subscriber
type SubscriptionInfo struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}

// AdminSubscriptionsResponse lists every live subscriber
type AdminSubscriptionsResponse struct {
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
	Listeners     int                `json:"listeners"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
