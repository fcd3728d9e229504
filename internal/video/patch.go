package video

import (
	"fmt"
	"strings"
)

// Phase identifies which worker owns a patch.
type Phase string

const (
	PhaseModeration Phase = "moderation"
	PhaseTranscode  Phase = "transcode"
)

// Patch is a partial update of a video record produced by one worker phase.
// The zero value is invalid; use the phase constructors.
type Patch struct {
	phase           Phase
	status          Status
	from            []Status
	moderationScore *float64
	hlsURL          string
	qualities       []string
	errMessage      string
	clearRendition  bool
}

// A failed run of a phase may be rerun; its outcome replaces the failure.
var (
	moderationRetryable = []Status{StatusUploading, StatusModerationFailed}
	transcodeRetryable  = []Status{StatusUploading, StatusModerationPassed, StatusModerationFailed, StatusFailed}
)

// Blocked records a content-policy violation. It may also be applied after
// publication, in which case the rendition fields are cleared.
func Blocked(score float64, reason string) Patch {
	return Patch{
		phase:           PhaseModeration,
		status:          StatusBlocked,
		from:            []Status{StatusUploading, StatusModerationFailed, StatusProcessed, StatusFailed},
		moderationScore: floatPtr(score),
		errMessage:      strings.TrimSpace(reason),
		clearRendition:  true,
	}
}

// ModerationPassed records a clean moderation run.
func ModerationPassed(score float64) Patch {
	return Patch{
		phase:           PhaseModeration,
		status:          StatusModerationPassed,
		from:            moderationRetryable,
		moderationScore: floatPtr(score),
	}
}

// ModerationFailed records a moderation run that could not decide. score is
// the highest score observed before the failure, if any frame was scored.
func ModerationFailed(score *float64, err error) Patch {
	p := Patch{
		phase:      PhaseModeration,
		status:     StatusModerationFailed,
		from:       moderationRetryable,
		errMessage: errorText(err),
	}
	if score != nil {
		p.moderationScore = floatPtr(*score)
	} else {
		p.moderationScore = floatPtr(0)
	}
	return p
}

// Processed records a published rendition set.
func Processed(hlsURL string, qualities []string) Patch {
	return Patch{
		phase:     PhaseTranscode,
		status:    StatusProcessed,
		from:      transcodeRetryable,
		hlsURL:    hlsURL,
		qualities: append([]string(nil), qualities...),
	}
}

// TranscodeFailed records a transcode run that published nothing.
func TranscodeFailed(err error) Patch {
	return Patch{
		phase:      PhaseTranscode,
		status:     StatusFailed,
		from:       transcodeRetryable,
		errMessage: errorText(err),
	}
}

// Phase returns the worker phase owning the patch.
func (p Patch) Phase() Phase { return p.phase }

// Status returns the status the patch writes.
func (p Patch) Status() Status { return p.status }

// AllowedFrom returns the statuses the patch may be applied from.
func (p Patch) AllowedFrom() []Status {
	return append([]Status(nil), p.from...)
}

// AllowsFrom reports whether the patch may be applied to a record currently
// in status current.
func (p Patch) AllowsFrom(current Status) bool {
	for _, s := range p.from {
		if s == current {
			return true
		}
	}
	return false
}

// Validate reports whether the patch was built by a constructor.
func (p Patch) Validate() error {
	if p.phase == "" || !p.status.Valid() || len(p.from) == 0 {
		return fmt.Errorf("invalid video patch")
	}
	return nil
}

// Fields returns the column/field values the patch writes, keyed by the
// canonical field name. Fields set to nil must be cleared by the store.
func (p Patch) Fields() map[string]any {
	fields := map[string]any{"status": string(p.status)}
	switch p.phase {
	case PhaseModeration:
		fields[FieldModerationScore] = *p.moderationScore
		fields[FieldError] = nullable(p.errMessage)
		if p.clearRendition {
			fields[FieldHLSURL] = nil
			fields[FieldQualities] = nil
		}
	case PhaseTranscode:
		if p.status == StatusProcessed {
			fields[FieldHLSURL] = p.hlsURL
			fields[FieldQualities] = append([]string(nil), p.qualities...)
			fields[FieldError] = nil
		} else {
			fields[FieldHLSURL] = nil
			fields[FieldQualities] = nil
			fields[FieldError] = nullable(p.errMessage)
		}
	}
	return fields
}

// Apply returns a copy of r with the patch applied. It does not check the
// precondition; stores call AllowsFrom first.
func (p Patch) Apply(r Record) Record {
	out := r
	out.Status = p.status
	switch p.phase {
	case PhaseModeration:
		out.ModerationScore = floatPtr(*p.moderationScore)
		out.Error = p.errMessage
		if p.clearRendition {
			out.HLSURL = ""
			out.Qualities = nil
		}
	case PhaseTranscode:
		if p.status == StatusProcessed {
			out.HLSURL = p.hlsURL
			out.Qualities = append([]string(nil), p.qualities...)
			out.Error = ""
		} else {
			out.HLSURL = ""
			out.Qualities = nil
			out.Error = p.errMessage
		}
	}
	return out
}

// Canonical field names shared by the record store backends.
const (
	FieldStatus          = "status"
	FieldModerationScore = "moderationScore"
	FieldHLSURL          = "hlsUrl"
	FieldQualities       = "qualities"
	FieldError           = "error"
)

func floatPtr(v float64) *float64 {
	return &v
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
}
