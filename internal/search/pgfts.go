package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects, messages, and
// code_artifacts using plainto_tsquery and ts_rank, with ts_headline for
// snippets. Only the latest revision of each message slot is searched.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Projects sub-query
	if q.FilterType == "" || q.FilterType == ResultProject {
		projWhere := "pr.search_vector @@ " + tsQuery
		if q.UserID != "" {
			projWhere += fmt.Sprintf(" AND pr.user_id = $%d", argN)
			args = append(args, q.UserID)
			argN++
		}
		if q.FilterProjectID != "" {
			projWhere += fmt.Sprintf(" AND pr.id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, pr.id, pr.title,
				ts_headline('english', coalesce(pr.goal, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				pr.id AS project_id, 0 AS week_number,
				ts_rank(pr.search_vector, %s) AS rank
			FROM projects pr
			WHERE %s`, tsQuery, tsQuery, projWhere))
	}

	// Messages sub-query
	if q.FilterType == "" || q.FilterType == ResultMessage {
		msgWhere := `m.search_vector @@ ` + tsQuery + `
				AND m.revision = (SELECT max(revision) FROM messages WHERE slot_id = m.slot_id)`
		if q.UserID != "" {
			msgWhere += fmt.Sprintf(" AND pr.user_id = $%d", argN)
			args = append(args, q.UserID)
			argN++
		}
		if q.FilterProjectID != "" {
			msgWhere += fmt.Sprintf(" AND pr.id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.slot_id AS id, m.role AS title,
				ts_headline('english', coalesce(m.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				pr.id AS project_id, coalesce(c.week_number, 0) AS week_number,
				ts_rank(m.search_vector, %s) AS rank
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			JOIN projects pr ON pr.id = c.project_id
			WHERE %s`, tsQuery, tsQuery, msgWhere))
	}

	// Artifacts sub-query
	if q.FilterType == "" || q.FilterType == ResultArtifact {
		artWhere := "a.search_vector @@ " + tsQuery
		if q.UserID != "" {
			artWhere += fmt.Sprintf(" AND pr.user_id = $%d", argN)
			args = append(args, q.UserID)
			argN++
		}
		if q.FilterProjectID != "" {
			artWhere += fmt.Sprintf(" AND pr.id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'artifact'::text AS type, a.id, a.title,
				ts_headline('english', coalesce(a.filename, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				pr.id AS project_id, a.week_number,
				ts_rank(a.search_vector, %s) AS rank
			FROM code_artifacts a
			JOIN projects pr ON pr.id = a.project_id
			WHERE %s`, tsQuery, tsQuery, artWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, week_number
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.WeekNumber); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []MessageRecord, []ArtifactRecord, error) {
	projRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, goal, user_id, status
		FROM projects
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projRows.Close()

	projects := make([]ProjectRecord, 0)
	for projRows.Next() {
		var pr ProjectRecord
		if err := projRows.Scan(&pr.ID, &pr.Title, &pr.Goal, &pr.UserID, &pr.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, pr)
	}
	if err := projRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, `
		SELECT m.slot_id, m.content, m.role, pr.id, pr.user_id
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		JOIN projects pr ON pr.id = c.project_id
		WHERE m.revision = (SELECT max(revision) FROM messages WHERE slot_id = m.slot_id)
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var m MessageRecord
		if err := msgRows.Scan(&m.ID, &m.Content, &m.Role, &m.ProjectID, &m.UserID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	artRows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.filename, a.language, a.project_id, pr.user_id, a.week_number
		FROM code_artifacts a
		JOIN projects pr ON pr.id = a.project_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load artifacts: %w", err)
	}
	defer artRows.Close()

	artifacts := make([]ArtifactRecord, 0)
	for artRows.Next() {
		var a ArtifactRecord
		if err := artRows.Scan(&a.ID, &a.Title, &a.Filename, &a.Language, &a.ProjectID, &a.UserID, &a.WeekNumber); err != nil {
			return nil, nil, nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := artRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	return projects, messages, artifacts, nil
}
