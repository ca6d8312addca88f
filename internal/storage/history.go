package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"republisher/internal/republish"
)

func (s *Store) Append(ctx context.Context, rec republish.HistoryRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history(item_id, item_type, original_at, new_at, status, error, exec_secs, triggered_by, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.ItemID, nullStr(rec.ItemType), msOrNil(rec.OriginalAt), msOrNil(rec.NewAt),
		string(rec.Status), nullStr(rec.ErrorMessage), rec.ExecutionSecs,
		string(rec.TriggeredBy), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status republish.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE history SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("history record %d not found", id)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, f republish.HistoryFilter) ([]republish.HistoryRecord, error) {
	conds := []string{`1=1`}
	var args []any
	if f.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		conds = append(conds, `created_at >= ?`)
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		conds = append(conds, `created_at < ?`)
		args = append(args, f.Until.UnixMilli())
	}
	if f.ItemID != 0 {
		conds = append(conds, `item_id = ?`)
		args = append(args, f.ItemID)
	}
	q := `SELECT id, item_id, item_type, original_at, new_at, status, error, exec_secs, triggered_by, created_at
	      FROM history WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.scanHistory(ctx, q, args...)
}

func (s *Store) CountSuccessToday(ctx context.Context, now time.Time) (int, error) {
	lo, hi := dayBounds(now)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history WHERE status = 'success' AND new_at >= ? AND new_at < ?`,
		lo, hi,
	).Scan(&n)
	return n, err
}

func (s *Store) IDsProcessedToday(ctx context.Context, now time.Time) ([]int64, error) {
	lo, hi := dayBounds(now)
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT item_id FROM history WHERE created_at >= ? AND created_at < ?`,
		lo, hi,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) FailedSince(ctx context.Context, since time.Time) ([]republish.HistoryRecord, error) {
	return s.scanHistory(ctx,
		`SELECT id, item_id, item_type, original_at, new_at, status, error, exec_secs, triggered_by, created_at
		 FROM history WHERE status = 'failed' AND created_at >= ? ORDER BY created_at ASC`,
		since.UnixMilli(),
	)
}

// PurgeHistory deletes records older than the cutoff (time-based retention).
func (s *Store) PurgeHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) scanHistory(ctx context.Context, q string, args ...any) ([]republish.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []republish.HistoryRecord
	for rows.Next() {
		var (
			rec              republish.HistoryRecord
			itemType, errMsg *string
			origMS, newMS    *int64
			execSecs         *float64
			status, trig     string
			createdMS        int64
		)
		if err := rows.Scan(&rec.ID, &rec.ItemID, &itemType, &origMS, &newMS, &status, &errMsg, &execSecs, &trig, &createdMS); err != nil {
			return nil, err
		}
		if itemType != nil {
			rec.ItemType = *itemType
		}
		if origMS != nil {
			rec.OriginalAt = time.UnixMilli(*origMS)
		}
		if newMS != nil {
			rec.NewAt = time.UnixMilli(*newMS)
		}
		if errMsg != nil {
			rec.ErrorMessage = *errMsg
		}
		if execSecs != nil {
			rec.ExecutionSecs = *execSecs
		}
		rec.Status = republish.Status(status)
		rec.TriggeredBy = republish.TriggerSource(trig)
		rec.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, rec)
	}
	return out, rows.Err()
}
