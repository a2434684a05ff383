package http

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string      `json:"error" example:"Ticker not found"`
	Code    string      `json:"code,omitempty" example:"ERR_NOT_FOUND"`
	Field   string      `json:"field,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"symbol"`
	Message string                 `json:"message,omitempty" example:"Symbol is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
