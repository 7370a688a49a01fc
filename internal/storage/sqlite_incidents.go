package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// sqliteIncidentRepo persists incidents. Nested collections (events,
// timeline, attempts, post-mortem) are stored as JSON columns; the flat
// fields are real columns so filters run in SQL.
type sqliteIncidentRepo struct {
	db *sql.DB
}

func (r *sqliteIncidentRepo) save(ctx context.Context, inc *models.Incident) error {
	eventsJSON, err := json.Marshal(inc.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	timelineJSON, err := json.Marshal(inc.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}
	attemptsJSON, err := json.Marshal(inc.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}

	var rootCauseJSON, postMortemJSON sql.NullString
	if inc.RootCause != nil {
		b, err := json.Marshal(inc.RootCause)
		if err != nil {
			return fmt.Errorf("marshal root cause: %w", err)
		}
		rootCauseJSON = sql.NullString{String: string(b), Valid: true}
	}
	if inc.PostMortem != nil {
		b, err := json.Marshal(inc.PostMortem)
		if err != nil {
			return fmt.Errorf("marshal post-mortem: %w", err)
		}
		postMortemJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, rule_id, title, description, severity, status, type, escalated,
			owner, acked_by, events_json, root_cause_json, timeline_json,
			attempts_json, post_mortem_json, detected_at, acknowledged_at,
			contained_at, mitigated_at, resolved_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule_id = excluded.rule_id,
			title = excluded.title,
			description = excluded.description,
			severity = excluded.severity,
			status = excluded.status,
			type = excluded.type,
			escalated = excluded.escalated,
			owner = excluded.owner,
			acked_by = excluded.acked_by,
			events_json = excluded.events_json,
			root_cause_json = excluded.root_cause_json,
			timeline_json = excluded.timeline_json,
			attempts_json = excluded.attempts_json,
			post_mortem_json = excluded.post_mortem_json,
			detected_at = excluded.detected_at,
			acknowledged_at = excluded.acknowledged_at,
			contained_at = excluded.contained_at,
			mitigated_at = excluded.mitigated_at,
			resolved_at = excluded.resolved_at,
			closed_at = excluded.closed_at
	`,
		inc.ID, inc.RuleID, inc.Title, inc.Description, string(inc.Severity),
		string(inc.Status), string(inc.Type), inc.Escalated, inc.Owner, inc.AckedBy,
		string(eventsJSON), rootCauseJSON, string(timelineJSON), string(attemptsJSON),
		postMortemJSON, inc.DetectedAt, nullTime(inc.AcknowledgedAt),
		nullTime(inc.ContainedAt), nullTime(inc.MitigatedAt),
		nullTime(inc.ResolvedAt), nullTime(inc.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("save incident: %w", err)
	}
	return nil
}

const incidentColumns = `id, rule_id, title, description, severity, status, type, escalated,
	owner, acked_by, events_json, root_cause_json, timeline_json, attempts_json,
	post_mortem_json, detected_at, acknowledged_at, contained_at, mitigated_at,
	resolved_at, closed_at`

func (r *sqliteIncidentRepo) get(ctx context.Context, id string) (*models.Incident, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents WHERE id = ?", id)

	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

func (r *sqliteIncidentRepo) list(ctx context.Context, filter Filter) ([]*models.Incident, error) {
	var conds []string
	var args []any

	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.ActiveOnly {
		conds = append(conds, "status NOT IN (?, ?)")
		args = append(args, string(models.StatusResolved), string(models.StatusClosed))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "detected_at >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "detected_at <= ?")
		args = append(args, filter.Until)
	}

	query := "SELECT " + incidentColumns + " FROM incidents"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY detected_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (r *sqliteIncidentRepo) delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM incidents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc            models.Incident
		eventsJSON     string
		rootCauseJSON  sql.NullString
		timelineJSON   string
		attemptsJSON   string
		postMortemJSON sql.NullString
		acked, contained, mitigated, resolved, closed sql.NullTime
	)

	err := row.Scan(
		&inc.ID, &inc.RuleID, &inc.Title, &inc.Description, &inc.Severity,
		&inc.Status, &inc.Type, &inc.Escalated, &inc.Owner, &inc.AckedBy,
		&eventsJSON, &rootCauseJSON, &timelineJSON, &attemptsJSON,
		&postMortemJSON, &inc.DetectedAt, &acked, &contained, &mitigated,
		&resolved, &closed,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventsJSON), &inc.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	if err := json.Unmarshal([]byte(timelineJSON), &inc.Timeline); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}
	if err := json.Unmarshal([]byte(attemptsJSON), &inc.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	if rootCauseJSON.Valid {
		if err := json.Unmarshal([]byte(rootCauseJSON.String), &inc.RootCause); err != nil {
			return nil, fmt.Errorf("unmarshal root cause: %w", err)
		}
	}
	if postMortemJSON.Valid {
		if err := json.Unmarshal([]byte(postMortemJSON.String), &inc.PostMortem); err != nil {
			return nil, fmt.Errorf("unmarshal post-mortem: %w", err)
		}
	}

	inc.AcknowledgedAt = timePtr(acked)
	inc.ContainedAt = timePtr(contained)
	inc.MitigatedAt = timePtr(mitigated)
	inc.ResolvedAt = timePtr(resolved)
	inc.ClosedAt = timePtr(closed)
	return &inc, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
