package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

var _ Store = (*PGStore)(nil)

// PGStore persists entries in an append-only table:
//
//	audit_log(id text primary key, actor_id text, actor_email text,
//	          action text, resource_type text, resource_id text,
//	          details jsonb, source_ip text, user_agent text,
//	          occurred_at timestamptz)
//
// The application only ever inserts and selects; updates and deletes are
// left to retention tooling outside this codebase.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log(id, actor_id, actor_email, action, resource_type,
		                      resource_id, details, source_ip, user_agent, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, nullable(entry.ActorID), nullable(entry.ActorEmail), string(entry.Action),
		entry.ResourceType, nullable(entry.ResourceID), details,
		nullable(entry.SourceIP), nullable(entry.UserAgent), entry.OccurredAt)
	return err
}

func (s *PGStore) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	f = f.Normalize()
	where, args := buildWhere(f)

	var total int
	countQuery := "select count(*) from audit_log" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (f.Page - 1) * f.Limit
	listQuery := fmt.Sprintf(`
		select id, actor_id, actor_email, action, resource_type, resource_id,
		       details, source_ip, user_agent, occurred_at
		from audit_log%s
		order by occurred_at desc, id desc
		limit $%d offset $%d
	`, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, listQuery, append(args, f.Limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var action string
		var actorID, actorEmail, resourceID, ip, agent sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &actorID, &actorEmail, &action, &e.ResourceType,
			&resourceID, &details, &ip, &agent, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		e.Action = Action(action)
		e.ActorID = actorID.String
		e.ActorEmail = actorEmail.String
		e.ResourceID = resourceID.String
		e.SourceIP = ip.String
		e.UserAgent = agent.String
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func buildWhere(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
