// Package pgstore provides a PostgreSQL implementation of alert.Store and
// eventlog.Store. Guarded transitions are single conditional UPDATEs with a
// status filter; the reported row count is the applied/not-applied signal.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/eventlog"
)

var tracer = otel.Tracer("github.com/Ved45ant/Intelligent-Alert-System/internal/store/pgstore")

//go:embed schema.sql
var schema string

// Store persists alerts and event log entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `id, source_type, severity, status, ts, metadata, history,
	last_transition_at, last_transition_reason`

// Get retrieves an alert by ID.
func (s *Store) Get(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := s.startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// Insert persists a new alert record.
func (s *Store) Insert(ctx context.Context, a *alert.Alert) error {
	ctx, span := s.startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	metadataJSON, historyJSON, err := marshalDocs(a)
	if err != nil {
		return spanErr(span, err)
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = s.pool.Exec(ctx, query,
		a.ID, a.SourceType, string(a.Severity), string(a.Status), a.Timestamp,
		metadataJSON, historyJSON, nullTime(a.LastTransitionAt), nullStr(a.LastTransitionReason),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert alert: %w", err))
	}
	return nil
}

// UpdateMetadata shallow-merges patch into the alert's metadata document and
// returns the updated record.
func (s *Store) UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*alert.Alert, error) {
	ctx, span := s.startSpan(ctx, "pgstore.UpdateMetadata", "UPDATE")
	defer span.End()

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("marshal patch: %w", err))
	}

	// jsonb || merges shallowly with right-hand keys winning.
	query := `UPDATE alerts SET metadata = metadata || $2::jsonb
		WHERE id = $1
		RETURNING ` + alertColumns
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, id, patchJSON))
	if err != nil {
		return nil, spanErr(span, err)
	}
	if a == nil {
		return nil, alert.ErrNotFound
	}
	return a, nil
}

// Transition performs the per-alert compare-and-set: the status filter and
// the write are one atomic statement, so exactly one racing writer sees a
// non-zero row count.
func (s *Store) Transition(ctx context.Context, id string, expect []alert.Status, to alert.Status, reason string, at time.Time) (bool, error) {
	ctx, span := s.startSpan(ctx, "pgstore.Transition", "UPDATE")
	defer span.End()
	span.SetAttributes(attribute.String("alert.status.to", string(to)))

	entryJSON, err := json.Marshal([]alert.HistoryEntry{{State: to, Timestamp: at, Reason: reason}})
	if err != nil {
		return false, spanErr(span, fmt.Errorf("marshal history entry: %w", err))
	}

	query := `UPDATE alerts
		SET status = $2,
		    history = history || $3::jsonb,
		    last_transition_at = $4,
		    last_transition_reason = $5
		WHERE id = $1 AND status = ANY($6)`
	tag, err := s.pool.Exec(ctx, query, id, string(to), entryJSON, at, reason, statusStrings(expect))
	if err != nil {
		return false, spanErr(span, fmt.Errorf("transition: %w", err))
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.notFoundOrConflict(ctx, id)
}

// SetSeverity updates severity only when it differs from the current value.
func (s *Store) SetSeverity(ctx context.Context, id string, sev alert.Severity) (bool, error) {
	ctx, span := s.startSpan(ctx, "pgstore.SetSeverity", "UPDATE")
	defer span.End()

	query := `UPDATE alerts SET severity = $2 WHERE id = $1 AND severity <> $2`
	tag, err := s.pool.Exec(ctx, query, id, string(sev))
	if err != nil {
		return false, spanErr(span, fmt.Errorf("set severity: %w", err))
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.notFoundOrConflict(ctx, id)
}

// CountInWindow counts group members with occurrence time in [from, to].
func (s *Store) CountInWindow(ctx context.Context, key alert.GroupKey, from, to time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "pgstore.CountInWindow", "SELECT")
	defer span.End()

	var (
		count int
		err   error
	)
	if key.DriverID != "" {
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM alerts
			 WHERE source_type = $1 AND metadata->>'driverId' = $2 AND ts >= $3 AND ts <= $4`,
			key.SourceType, key.DriverID, from, to,
		).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM alerts WHERE source_type = $1 AND ts >= $2 AND ts <= $3`,
			key.SourceType, from, to,
		).Scan(&count)
	}
	if err != nil {
		return 0, spanErr(span, fmt.Errorf("count in window: %w", err))
	}
	return count, nil
}

// FindGroup returns every alert in the group, oldest first.
func (s *Store) FindGroup(ctx context.Context, key alert.GroupKey) ([]*alert.Alert, error) {
	ctx, span := s.startSpan(ctx, "pgstore.FindGroup", "SELECT")
	defer span.End()

	var (
		rows pgx.Rows
		err  error
	)
	if key.DriverID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+alertColumns+` FROM alerts
			 WHERE source_type = $1 AND metadata->>'driverId' = $2 ORDER BY ts`,
			key.SourceType, key.DriverID,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+alertColumns+` FROM alerts WHERE source_type = $1 ORDER BY ts`,
			key.SourceType,
		)
	}
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("find group: %w", err))
	}
	return collectAlerts(rows, span)
}

// FindByStatuses returns up to limit alerts in the status set, oldest first.
func (s *Store) FindByStatuses(ctx context.Context, statuses []alert.Status, limit int) ([]*alert.Alert, error) {
	ctx, span := s.startSpan(ctx, "pgstore.FindByStatuses", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE status = ANY($1) ORDER BY ts`
	args := []any{statusStrings(statuses)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("find by statuses: %w", err))
	}
	return collectAlerts(rows, span)
}

// List returns alerts matching the filter, newest first.
func (s *Store) List(ctx context.Context, f alert.Filter) ([]*alert.Alert, error) {
	ctx, span := s.startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.SourceType != "" {
		where = append(where, "source_type = "+arg(f.SourceType))
	}
	if f.DriverID != "" {
		where = append(where, "metadata->>'driverId' = "+arg(f.DriverID))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("list alerts: %w", err))
	}
	return collectAlerts(rows, span)
}

// Append inserts one immutable event log entry.
func (s *Store) Append(ctx context.Context, e *eventlog.Entry) error {
	ctx, span := s.startSpan(ctx, "pgstore.Append", "INSERT")
	defer span.End()

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal payload: %w", err))
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO event_log (id, alert_id, type, ts, payload) VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.AlertID, string(e.Type), e.Timestamp, payloadJSON,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("append event: %w", err))
	}
	return nil
}

// ListEvents returns event entries matching the filter, newest first.
func (s *Store) ListEvents(ctx context.Context, f eventlog.Filter) ([]*eventlog.Entry, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListEvents", "SELECT")
	defer span.End()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.AlertID != "" {
		where = append(where, "alert_id = "+arg(f.AlertID))
	}
	if f.Type != "" {
		where = append(where, "type = "+arg(string(f.Type)))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= "+arg(f.Until))
	}

	query := `SELECT id, alert_id, type, ts, payload FROM event_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("list events: %w", err))
	}
	defer rows.Close()

	var out []*eventlog.Entry
	for rows.Next() {
		var (
			e           eventlog.Entry
			typ         string
			payloadJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.AlertID, &typ, &e.Timestamp, &payloadJSON); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan event: %w", err))
		}
		e.Type = eventlog.Type(typ)
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, spanErr(span, fmt.Errorf("unmarshal payload: %w", err))
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate events: %w", err))
	}
	return out, nil
}

// Counts returns event counts per type within [since, until].
func (s *Store) Counts(ctx context.Context, since, until time.Time) (map[eventlog.Type]int, error) {
	ctx, span := s.startSpan(ctx, "pgstore.Counts", "SELECT")
	defer span.End()

	var (
		where []string
		args  []any
	)
	if !since.IsZero() {
		args = append(args, since)
		where = append(where, "ts >= $"+strconv.Itoa(len(args)))
	}
	if !until.IsZero() {
		args = append(args, until)
		where = append(where, "ts <= $"+strconv.Itoa(len(args)))
	}
	query := `SELECT type, count(*) FROM event_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY type"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("count events: %w", err))
	}
	defer rows.Close()

	out := make(map[eventlog.Type]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan count: %w", err))
		}
		out[eventlog.Type(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate counts: %w", err))
	}
	return out, nil
}

// notFoundOrConflict distinguishes a missing alert from a lost CAS race.
func (s *Store) notFoundOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("existence check: %w", err)
	}
	if !exists {
		return alert.ErrNotFound
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func marshalDocs(a *alert.Alert) (metadataJSON, historyJSON []byte, err error) {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err = json.Marshal(metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	history := a.History
	if history == nil {
		history = []alert.HistoryEntry{}
	}
	historyJSON, err = json.Marshal(history)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal history: %w", err)
	}
	return metadataJSON, historyJSON, nil
}

func statusStrings(statuses []alert.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanAlertRow scans a single row into an alert. Returns (nil, nil) when no
// row is found.
func scanAlertRow(row pgx.Row) (*alert.Alert, error) {
	var (
		a            alert.Alert
		severity     string
		status       string
		metadataJSON []byte
		historyJSON  []byte
		transAt      *time.Time
		transReason  *string
	)
	err := row.Scan(&a.ID, &a.SourceType, &severity, &status, &a.Timestamp,
		&metadataJSON, &historyJSON, &transAt, &transReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)
	if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &a.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if transAt != nil {
		a.LastTransitionAt = *transAt
	}
	if transReason != nil {
		a.LastTransitionReason = *transReason
	}
	return &a, nil
}

func collectAlerts(rows pgx.Rows, span trace.Span) ([]*alert.Alert, error) {
	defer rows.Close()
	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate alerts: %w", err))
	}
	return out, nil
}
