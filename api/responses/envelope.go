package responses

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// WebhookAck is the body returned to Stripe once an event is handled or ignored.
type WebhookAck struct {
	Received bool `json:"received"`
}

// WebhookError is the body returned to Stripe when a delivery fails.
type WebhookError struct {
	Error string `json:"error"`
}
