package dto

// HealthResponse is served unauthenticated. Gateway is empty when the node
// runs without a gateway client.
type HealthResponse struct {
	Status  string `json:"status"`
	Gateway string `json:"gateway,omitempty"`
}
