package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/meetflow/store"
)

func (d *DB) CreateRun(ctx context.Context, create *store.Run) (*store.Run, error) {
	query := `
		INSERT INTO meeting_run (uid, title, status, mode, summary, ticket_count, page_count, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_ts
	`
	run := *create
	if err := d.db.QueryRowContext(ctx, query,
		create.UID,
		create.Title,
		create.Status,
		create.Mode,
		create.Summary,
		create.TicketCount,
		create.PageCount,
		create.Payload,
	).Scan(&run.ID, &run.CreatedTs); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &run, nil
}

func (d *DB) ListRuns(ctx context.Context, find *store.FindRun) ([]*store.Run, error) {
	where, args := []string{"1 = 1"}, []any{}
	placeholder := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if find.UID != nil {
		where = append(where, "uid = "+placeholder(*find.UID))
	}
	if find.Status != nil {
		exact := placeholder(*find.Status)
		prefix := placeholder(store.StatusPrefixPattern(*find.Status))
		where = append(where, "(status = "+exact+" OR status LIKE "+prefix+")")
	}

	query := `SELECT id, uid, title, status, mode, summary, ticket_count, page_count, payload::TEXT, created_ts
		FROM meeting_run
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`

	if find.Limit != nil {
		query += " LIMIT " + placeholder(*find.Limit)
	}
	if find.Offset != nil {
		query += " OFFSET " + placeholder(*find.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	list := []*store.Run{}
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.UID,
			&run.Title,
			&run.Status,
			&run.Mode,
			&run.Summary,
			&run.TicketCount,
			&run.PageCount,
			&run.Payload,
			&run.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		list = append(list, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return list, nil
}
