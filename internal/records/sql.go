package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vidpipe/internal/video"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// encodeQualities converts a rendition list to a bind value.
	encodeQualities func([]string) (any, error)
	// qualitiesDest returns a scan destination and a decoder for it.
	qualitiesDest func() (any, func() ([]string, error))
	isDuplicate   func(error) bool
	retry         func(ctx context.Context, op func() error) error
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

// timeLayout is fixed width so that text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const videoColumns = `id, status, moderation_score, hls_url, qualities, error_message, created_at, updated_at`

var patchColumns = map[string]string{
	video.FieldStatus:          "status",
	video.FieldModerationScore: "moderation_score",
	video.FieldHLSURL:          "hls_url",
	video.FieldQualities:       "qualities",
	video.FieldError:           "error_message",
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.d.retry(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

func (s *sqlStore) Create(ctx context.Context, id string) (*video.Record, error) {
	if err := video.ValidateID(id); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	stamp := now.Format(timeLayout)
	query := fmt.Sprintf(`INSERT INTO videos (id, status, created_at, updated_at) VALUES (%s, %s, %s, %s)`,
		s.d.placeholder(1), s.d.placeholder(2), s.d.placeholder(3), s.d.placeholder(4))
	if _, err := s.exec(ctx, query, id, string(video.StatusUploading), stamp, stamp); err != nil {
		if s.d.isDuplicate(err) {
			return nil, fmt.Errorf("%w: %s", ErrExists, id)
		}
		return nil, fmt.Errorf("insert video: %w", err)
	}
	return &video.Record{ID: id, Status: video.StatusUploading, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (*video.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = `+s.d.placeholder(1), id)
	rec, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return rec, nil
}

func (s *sqlStore) Apply(ctx context.Context, id string, p video.Patch) (*video.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	fields := p.Fields()
	assignments := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+4)
	n := 0
	bind := func(v any) string {
		n++
		args = append(args, v)
		return s.d.placeholder(n)
	}
	// Fixed column order keeps statements cacheable.
	for _, field := range []string{video.FieldStatus, video.FieldModerationScore, video.FieldHLSURL, video.FieldQualities, video.FieldError} {
		value, ok := fields[field]
		if !ok {
			continue
		}
		if field == video.FieldQualities && value != nil {
			encoded, err := s.d.encodeQualities(value.([]string))
			if err != nil {
				return nil, fmt.Errorf("encode qualities: %w", err)
			}
			value = encoded
		}
		assignments = append(assignments, patchColumns[field]+" = "+bind(value))
	}
	assignments = append(assignments, "updated_at = "+bind(time.Now().UTC().Format(timeLayout)))

	idParam := bind(id)
	from := p.AllowedFrom()
	fromParams := make([]string, len(from))
	for i, status := range from {
		fromParams[i] = bind(string(status))
	}

	query := fmt.Sprintf(`UPDATE videos SET %s WHERE id = %s AND status IN (%s)`,
		strings.Join(assignments, ", "), idParam, strings.Join(fromParams, ", "))
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update video: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return current, rejected(id, current.Status, p)
	}
	return current, nil
}

func (s *sqlStore) List(ctx context.Context, limit int) ([]video.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos ORDER BY updated_at DESC, id LIMIT `+s.d.placeholder(1), listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var out []video.Record
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) scan(row rowScanner) (*video.Record, error) {
	var (
		rec       video.Record
		status    string
		score     sql.NullFloat64
		hlsURL    sql.NullString
		errMsg    sql.NullString
		createdAt string
		updatedAt string
	)
	qualitiesDest, decodeQualities := s.d.qualitiesDest()
	if err := row.Scan(&rec.ID, &status, &score, &hlsURL, qualitiesDest, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	parsed, ok := video.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("video %s has unknown status %q", rec.ID, status)
	}
	rec.Status = parsed
	if score.Valid {
		v := score.Float64
		rec.ModerationScore = &v
	}
	rec.HLSURL = hlsURL.String
	rec.Error = errMsg.String
	qualities, err := decodeQualities()
	if err != nil {
		return nil, fmt.Errorf("decode qualities: %w", err)
	}
	rec.Qualities = qualities
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeJSONQualities(q []string) (any, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonQualitiesDest() (any, func() ([]string, error)) {
	var raw sql.NullString
	return &raw, func() ([]string, error) {
		if !raw.Valid || raw.String == "" {
			return nil, nil
		}
		var out []string
		if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func noRetry(_ context.Context, op func() error) error {
	return op()
}
