// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history records finished funnel runs in a SQLite database so
// earlier searches can be listed and reloaded.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/litfunnel/pkg/types"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("history: run not found")

const (
	defaultListLimit = 20
	previewLen       = 120
)

// Store manages the run history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID            int64     `json:"id" yaml:"id"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	Abstract      string    `json:"abstract" yaml:"abstract"`
	Keywords      []string  `json:"keywords" yaml:"keywords"`
	TotalFound    int       `json:"total_found" yaml:"total_found"`
	TotalRanked   int       `json:"total_ranked" yaml:"total_ranked"`
	AvgSimilarity float64   `json:"avg_similarity" yaml:"avg_similarity"`
}

// Run is a stored run with its full result.
type Run struct {
	RunSummary `yaml:",inline"`
	Result     types.RankingResult `json:"result" yaml:"result"`
}

// Open opens or creates the database at path and its schema. The special
// path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating history directory: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			abstract TEXT NOT NULL,
			query TEXT NOT NULL,
			total_found INTEGER NOT NULL,
			total_ranked INTEGER NOT NULL,
			avg_similarity REAL NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			stages TEXT NOT NULL,
			source_errors TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS run_papers (
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			paper_id TEXT NOT NULL,
			source TEXT NOT NULL,
			title TEXT NOT NULL,
			authors TEXT,
			abstract TEXT,
			year INTEGER,
			venue TEXT,
			link TEXT,
			citations INTEGER,
			similarity REAL NOT NULL,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Save stores a finished run and returns its ID.
func (s *Store) Save(ctx context.Context, abstract string, res types.RankingResult) (int64, error) {
	query, err := json.Marshal(res.Query)
	if err != nil {
		return 0, fmt.Errorf("encoding query: %w", err)
	}
	stages, err := json.Marshal(res.Stages)
	if err != nil {
		return 0, fmt.Errorf("encoding stages: %w", err)
	}
	var srcErrs sql.NullString
	if len(res.SourceErrors) > 0 {
		b, err := json.Marshal(res.SourceErrors)
		if err != nil {
			return 0, fmt.Errorf("encoding source errors: %w", err)
		}
		srcErrs = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx,
		`INSERT INTO runs (created_at, abstract, query, total_found, total_ranked, avg_similarity, elapsed_ms, stages, source_errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.now().UTC().Format(time.RFC3339Nano), abstract, string(query),
		res.TotalFound, res.TotalRanked, res.AvgSimilarity, res.Elapsed.Milliseconds(),
		string(stages), srcErrs,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_papers (run_id, position, paper_id, source, title, authors, abstract, year, venue, link, citations, similarity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing paper insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range res.Papers {
		authors, err := json.Marshal(p.Authors)
		if err != nil {
			return 0, fmt.Errorf("encoding authors: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, i, p.ID, string(p.Source), p.Title, string(authors),
			p.Abstract, p.Year, p.Venue, p.Link, p.Citations, p.Similarity); err != nil {
			return 0, fmt.Errorf("inserting paper %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing run: %w", err)
	}
	return id, nil
}

// List returns the most recent runs first. A limit <= 0 returns 20.
// A non-empty match keeps runs whose abstract contains it, ignoring case.
func (s *Store) List(ctx context.Context, match string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := `SELECT id, created_at, abstract, query, total_found, total_ranked, avg_similarity FROM runs`
	var args []any
	if match = strings.TrimSpace(match); match != "" {
		q += ` WHERE abstract LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(match)+"%")
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		sum.Abstract = preview(sum.Abstract)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Get loads a run and its papers.
func (s *Store) Get(ctx context.Context, id int64) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, abstract, query, total_found, total_ranked, avg_similarity, elapsed_ms, stages, source_errors
		 FROM runs WHERE id = ?`, id)

	var (
		run       Run
		createdAt string
		query     string
		elapsedMS int64
		stages    string
		srcErrs   sql.NullString
	)
	err := row.Scan(&run.ID, &createdAt, &run.Abstract, &query, &run.TotalFound, &run.TotalRanked,
		&run.AvgSimilarity, &elapsedMS, &stages, &srcErrs)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("reading run %d: %w", id, err)
	}

	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Run{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(query), &run.Result.Query); err != nil {
		return Run{}, fmt.Errorf("decoding query: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &run.Result.Stages); err != nil {
		return Run{}, fmt.Errorf("decoding stages: %w", err)
	}
	if srcErrs.Valid {
		if err := json.Unmarshal([]byte(srcErrs.String), &run.Result.SourceErrors); err != nil {
			return Run{}, fmt.Errorf("decoding source errors: %w", err)
		}
	}
	run.Keywords = run.Result.Query.Keywords
	run.Result.TotalFound = run.TotalFound
	run.Result.TotalRanked = run.TotalRanked
	run.Result.AvgSimilarity = run.AvgSimilarity
	run.Result.Elapsed = time.Duration(elapsedMS) * time.Millisecond

	papers, err := s.papers(ctx, id)
	if err != nil {
		return Run{}, err
	}
	run.Result.Papers = papers
	return run, nil
}

func (s *Store) papers(ctx context.Context, runID int64) ([]types.Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT paper_id, source, title, authors, abstract, year, venue, link, citations, similarity
		 FROM run_papers WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("reading papers: %w", err)
	}
	defer rows.Close()

	papers := []types.Paper{}
	for rows.Next() {
		var (
			p       types.Paper
			source  string
			authors sql.NullString
		)
		if err := rows.Scan(&p.ID, &source, &p.Title, &authors, &p.Abstract, &p.Year,
			&p.Venue, &p.Link, &p.Citations, &p.Similarity); err != nil {
			return nil, fmt.Errorf("scanning paper: %w", err)
		}
		p.Source = types.SourceID(source)
		if authors.Valid && authors.String != "" {
			if err := json.Unmarshal([]byte(authors.String), &p.Authors); err != nil {
				return nil, fmt.Errorf("decoding authors: %w", err)
			}
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// Delete removes a run and its papers.
func (s *Store) Delete(ctx context.Context, id int64) error {
	r, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run %d: %w", id, err)
	}
	if n, err := r.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func scanSummary(rows *sql.Rows) (RunSummary, error) {
	var (
		sum       RunSummary
		createdAt string
		query     string
	)
	if err := rows.Scan(&sum.ID, &createdAt, &sum.Abstract, &query, &sum.TotalFound,
		&sum.TotalRanked, &sum.AvgSimilarity); err != nil {
		return RunSummary{}, fmt.Errorf("scanning run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return RunSummary{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sum.CreatedAt = t

	var q types.StructuredQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return RunSummary{}, fmt.Errorf("decoding query: %w", err)
	}
	sum.Keywords = q.Keywords
	return sum, nil
}

func preview(s string) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= previewLen {
		return string(r)
	}
	return string(r[:previewLen]) + "..."
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
