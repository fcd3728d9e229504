package api

import (
	"vidpipe/internal/stage"
	"vidpipe/internal/video"
)

// FromRecord converts a video record to its API representation.
func FromRecord(rec *video.Record) Video {
	if rec == nil {
		return Video{}
	}
	dto := Video{
		ID:        rec.ID,
		Status:    string(rec.Status),
		Phase:     rec.Status.ClientPhase(),
		Terminal:  rec.Status.IsTerminal(),
		HLSURL:    rec.HLSURL,
		Qualities: append([]string(nil), rec.Qualities...),
		Error:     rec.Error,
	}
	if rec.ModerationScore != nil {
		score := *rec.ModerationScore
		dto.ModerationScore = &score
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !rec.UpdatedAt.IsZero() {
		dto.UpdatedAt = rec.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromRecords converts a slice of records.
func FromRecords(recs []video.Record) []Video {
	out := make([]Video, 0, len(recs))
	for i := range recs {
		out = append(out, FromRecord(&recs[i]))
	}
	return out
}

// FromHealth converts worker health records, preserving order.
func FromHealth(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}
