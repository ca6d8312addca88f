package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"republisher/internal/republish"
)

// Post is the stored content item. Only published posts are ever eligible.
type Post struct {
	ID          int64
	Title       string
	Type        string
	Status      string
	PublishedAt time.Time
	ModifiedAt  time.Time
}

// InsertPost creates a content item and returns its id. Used by the import
// surface and tests; the core itself never creates items.
func (s *Store) InsertPost(ctx context.Context, p Post) (int64, error) {
	if p.Status == "" {
		p.Status = "published"
	}
	if p.Type == "" {
		p.Type = "post"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(title, type, status, published_at, modified_at) VALUES(?,?,?,?,?)`,
		p.Title, p.Type, p.Status, p.PublishedAt.UnixMilli(), p.ModifiedAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AssignCategory adds the item to a category. Idempotent.
func (s *Store) AssignCategory(ctx context.Context, postID, categoryID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO post_categories(post_id, category_id) VALUES(?,?)
		 ON CONFLICT(post_id, category_id) DO NOTHING`,
		postID, categoryID,
	)
	return err
}

func (s *Store) GetPost(ctx context.Context, id int64) (republish.EligiblePost, error) {
	var p republish.EligiblePost
	var pubMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, type, published_at FROM posts WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.Type, &pubMS)
	if errors.Is(err, sql.ErrNoRows) {
		return republish.EligiblePost{}, republish.ErrNotFound
	}
	if err != nil {
		return republish.EligiblePost{}, err
	}
	p.PublishedAt = time.UnixMilli(pubMS)
	return p, nil
}

// Republish rewrites the publish timestamp and bumps last-modified.
func (s *Store) Republish(ctx context.Context, id int64, publishedAt, modifiedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET published_at = ?, modified_at = ? WHERE id = ? AND status = 'published'`,
		publishedAt.UnixMilli(), modifiedAt.UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return republish.ErrNotFound
	}
	return nil
}

func (s *Store) SelectEligible(ctx context.Context, crit republish.Criteria) ([]republish.EligiblePost, error) {
	where, args := eligibleWhere(crit)
	q := `SELECT id, title, type, published_at FROM posts ` + where + ` ORDER BY published_at ASC`
	if crit.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", crit.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []republish.EligiblePost
	for rows.Next() {
		var p republish.EligiblePost
		var pubMS int64
		if err := rows.Scan(&p.ID, &p.Title, &p.Type, &pubMS); err != nil {
			return nil, err
		}
		p.PublishedAt = time.UnixMilli(pubMS)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountEligible(ctx context.Context, crit republish.Criteria) (int, error) {
	where, args := eligibleWhere(crit)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts `+where, args...).Scan(&n)
	return n, err
}

// eligibleWhere is the single place the eligibility predicate is rendered to
// SQL, so Select, Count and the single-item check stay in lockstep.
func eligibleWhere(crit republish.Criteria) (string, []any) {
	var (
		conds = []string{`status = 'published'`}
		args  []any
	)

	conds = append(conds, `published_at < ?`)
	args = append(args, crit.OlderThan.UnixMilli())

	if len(crit.Types) > 0 {
		conds = append(conds, `type IN (`+placeholders(len(crit.Types))+`)`)
		for _, t := range crit.Types {
			args = append(args, t)
		}
	}

	if crit.ItemID != 0 {
		conds = append(conds, `id = ?`)
		args = append(args, crit.ItemID)
	}

	if len(crit.ExcludeIDs) > 0 {
		conds = append(conds, `id NOT IN (`+placeholders(len(crit.ExcludeIDs))+`)`)
		for _, id := range crit.ExcludeIDs {
			args = append(args, id)
		}
	}

	switch crit.CategoryMode {
	case republish.CategoryWhitelist:
		if len(crit.CategoryIDs) > 0 {
			conds = append(conds, `EXISTS (SELECT 1 FROM post_categories pc WHERE pc.post_id = posts.id AND pc.category_id IN (`+placeholders(len(crit.CategoryIDs))+`))`)
			for _, id := range crit.CategoryIDs {
				args = append(args, id)
			}
		}
	case republish.CategoryBlacklist:
		if len(crit.CategoryIDs) > 0 {
			conds = append(conds, `NOT EXISTS (SELECT 1 FROM post_categories pc WHERE pc.post_id = posts.id AND pc.category_id IN (`+placeholders(len(crit.CategoryIDs))+`))`)
			for _, id := range crit.CategoryIDs {
				args = append(args, id)
			}
		}
	}

	return `WHERE ` + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
