package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/meetflow/store"
)

func (d *DB) CreateRun(ctx context.Context, create *store.Run) (*store.Run, error) {
	stmt := `
		INSERT INTO meeting_run (uid, title, status, mode, summary, ticket_count, page_count, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_ts
	`
	run := *create
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.Title,
		create.Status,
		create.Mode,
		create.Summary,
		create.TicketCount,
		create.PageCount,
		create.Payload,
	).Scan(&run.ID, &run.CreatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to create run")
	}
	return &run, nil
}

func (d *DB) ListRuns(ctx context.Context, find *store.FindRun) ([]*store.Run, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.Status != nil {
		where = append(where, `(status = ? OR status LIKE ? ESCAPE '\')`)
		args = append(args, *find.Status, store.StatusPrefixPattern(*find.Status))
	}

	query := `SELECT id, uid, title, status, mode, summary, ticket_count, page_count, payload, created_ts
		FROM meeting_run
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`

	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET ?"
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
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
			return nil, errors.Wrap(err, "failed to scan run")
		}
		list = append(list, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	return list, nil
}
