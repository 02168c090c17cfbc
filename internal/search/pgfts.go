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

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across standards, questions, and answers
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	if q.FilterType == "" || q.FilterType == ResultStandard {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'standard'::text AS type, s.id::text, s.name AS title,
				ts_headline('english', coalesce(s.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id::text AS standard_id, ''::text AS company_id, 0 AS year,
				ts_rank(s.fts, %s) AS rank
			FROM standards s
			WHERE s.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultQuestion {
		questionWhere := "q.fts @@ " + tsQuery
		if q.FilterStandardID != "" {
			questionWhere += fmt.Sprintf(" AND q.standard_id = $%d", argN)
			args = append(args, q.FilterStandardID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'question'::text AS type, q.id::text, q.theme AS title,
				ts_headline('english', coalesce(q.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				q.standard_id::text, ''::text AS company_id, 0 AS year,
				ts_rank(q.fts, %s) AS rank
			FROM questions q
			WHERE %s`, tsQuery, tsQuery, questionWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultAnswer {
		answerWhere := "a.fts @@ " + tsQuery
		if q.FilterStandardID != "" {
			answerWhere += fmt.Sprintf(" AND q.standard_id = $%d", argN)
			args = append(args, q.FilterStandardID)
			argN++
		}
		if !q.CrossCompany {
			answerWhere += fmt.Sprintf(" AND a.company_id = $%d", argN)
			args = append(args, q.FilterCompanyID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'answer'::text AS type, a.id::text, q.theme AS title,
				ts_headline('english', coalesce(a.content::text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				q.standard_id::text, a.company_id::text, a.year,
				ts_rank(a.fts, %s) AS rank
			FROM answers a
			JOIN questions q ON q.id = a.question_id
			WHERE %s`, tsQuery, tsQuery, answerWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, standard_id, company_id, year
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.StandardID, &r.CompanyID, &r.Year); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]StandardRecord, []QuestionRecord, []AnswerRecord, error) {
	standardRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, code, name, description
		FROM standards
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load standards: %w", err)
	}
	defer standardRows.Close()

	standards := make([]StandardRecord, 0)
	for standardRows.Next() {
		var s StandardRecord
		if err := standardRows.Scan(&s.ID, &s.Code, &s.Name, &s.Description); err != nil {
			return nil, nil, nil, fmt.Errorf("scan standard: %w", err)
		}
		standards = append(standards, s)
	}
	if err := standardRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate standards: %w", err)
	}

	questionRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, content, theme, category, standard_id::text
		FROM questions
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load questions: %w", err)
	}
	defer questionRows.Close()

	questions := make([]QuestionRecord, 0)
	for questionRows.Next() {
		var q QuestionRecord
		if err := questionRows.Scan(&q.ID, &q.Content, &q.Theme, &q.Category, &q.StandardID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := questionRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate questions: %w", err)
	}

	answerRows, err := p.db.QueryContext(ctx, `
		SELECT a.id::text, coalesce(a.content::text, ''), a.question_id::text, q.standard_id::text, a.company_id::text, a.year
		FROM answers a
		JOIN questions q ON q.id = a.question_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load answers: %w", err)
	}
	defer answerRows.Close()

	answers := make([]AnswerRecord, 0)
	for answerRows.Next() {
		var a AnswerRecord
		if err := answerRows.Scan(&a.ID, &a.Text, &a.QuestionID, &a.StandardID, &a.CompanyID, &a.Year); err != nil {
			return nil, nil, nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	if err := answerRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate answers: %w", err)
	}

	return standards, questions, answers, nil
}
