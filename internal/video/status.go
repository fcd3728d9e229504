package video

import "strings"

// Status represents the lifecycle of a video record.
type Status string

const (
	StatusUploading        Status = "uploading"
	StatusBlocked          Status = "blocked"
	StatusModerationPassed Status = "moderation_passed"
	StatusModerationFailed Status = "moderation_failed"
	StatusProcessed        Status = "processed"
	StatusFailed           Status = "failed"
)

var allStatuses = []Status{
	StatusUploading,
	StatusBlocked,
	StatusModerationPassed,
	StatusModerationFailed,
	StatusProcessed,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var moderationStatuses = map[Status]struct{}{
	StatusBlocked:          {},
	StatusModerationPassed: {},
	StatusModerationFailed: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusSet[s]
	return ok
}

// IsModerationOutcome reports whether s was written by the moderation worker.
func (s Status) IsModerationOutcome() bool {
	_, ok := moderationStatuses[s]
	return ok
}

// IsTerminal reports whether a polling client can stop watching a record in
// this status. moderation_passed is not terminal: transcoding still follows.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusBlocked, StatusModerationFailed, StatusProcessed, StatusFailed:
		return true
	default:
		return false
	}
}

// ClientPhase maps a status onto the client-facing upload state machine
// (uploading -> moderating -> blocked/failed/passed -> processed).
func (s Status) ClientPhase() string {
	switch s {
	case StatusUploading:
		return "moderating"
	case StatusBlocked:
		return "blocked"
	case StatusModerationFailed, StatusFailed:
		return "failed"
	case StatusModerationPassed:
		return "passed"
	case StatusProcessed:
		return "processed"
	default:
		return "uploading"
	}
}
