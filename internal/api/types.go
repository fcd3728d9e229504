package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Video describes a video record in a transport-friendly format.
type Video struct {
	ID              string   `json:"id"`
	Status          string   `json:"status"`
	Phase           string   `json:"phase"`
	Terminal        bool     `json:"terminal"`
	ModerationScore *float64 `json:"moderationScore,omitempty"`
	HLSURL          string   `json:"hlsUrl,omitempty"`
	Qualities       []string `json:"qualities,omitempty"`
	Error           string   `json:"error,omitempty"`
	CreatedAt       string   `json:"createdAt,omitempty"`
	UpdatedAt       string   `json:"updatedAt,omitempty"`
}

// VideoListResponse wraps a collection of videos.
type VideoListResponse struct {
	Items []Video `json:"items"`
}

// StageHealth mirrors readiness reporting for a worker.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// ReadyResponse reports worker readiness.
type ReadyResponse struct {
	Ready    bool          `json:"ready"`
	InFlight int           `json:"inFlight"`
	Workers  []StageHealth `json:"workers"`
}

// TriggerResponse acknowledges a scheduled worker invocation.
type TriggerResponse struct {
	Accepted  bool   `json:"accepted"`
	Kind      string `json:"kind"`
	Subject   string `json:"subject"`
	RequestID string `json:"requestId"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
