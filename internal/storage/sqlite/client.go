package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/storage/models"
	"github.com/docrouter/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer keeps SQLite from returning SQLITE_BUSY under concurrent ingestion.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		content_type TEXT,
		content_hash TEXT NOT NULL,
		category TEXT NOT NULL,
		confidence REAL NOT NULL,
		classifier TEXT NOT NULL,
		reasoning TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		user_id TEXT,
		query_text TEXT NOT NULL,
		response TEXT,
		categories TEXT NOT NULL,
		routing_mode TEXT NOT NULL,
		follow_up INTEGER NOT NULL DEFAULT 0,
		candidate_count INTEGER,
		source_count INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_session ON query_history(session_id);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_categories (
		query_id TEXT NOT NULL,
		category TEXT NOT NULL,
		PRIMARY KEY (query_id, category),
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		chunk_id TEXT,
		document_id TEXT,
		filename TEXT,
		category TEXT,
		score REAL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS evaluation_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		classifier TEXT NOT NULL,
		total INTEGER NOT NULL,
		correct INTEGER NOT NULL,
		accuracy REAL NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertDocument stores a classified document and its chunks in one transaction.
func (c *Client) InsertDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, filename, content_type, content_hash, category, confidence,
			classifier, reasoning, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.Filename,
		doc.ContentType,
		doc.ContentHash,
		string(doc.Category),
		doc.Confidence,
		doc.Classifier,
		doc.Reasoning,
		len(chunks),
		doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, doc_id, chunk_index, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx, chunk.ID, doc.ID, chunk.ChunkIndex, chunk.Text, chunk.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}
	doc.ChunkCount = len(chunks)

	logger.Debug("Document inserted",
		zap.String("doc_id", doc.ID),
		zap.String("category", doc.Category.String()),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

const documentColumns = `id, filename, content_type, content_hash, category, confidence, classifier, reasoning, chunk_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var cat string
	var createdAt int64

	err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.ContentType,
		&doc.ContentHash,
		&cat,
		&doc.Confidence,
		&doc.Classifier,
		&doc.Reasoning,
		&doc.ChunkCount,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Category = category.Category(cat)
	doc.CreatedAt = time.Unix(createdAt, 0)
	return &doc, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// FindDocumentByHash returns the document previously ingested with the same
// content hash.
func (c *Client) FindDocumentByHash(ctx context.Context, hash string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE content_hash = ?`, hash)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the newest documents, optionally limited to one category.
func (c *Client) ListDocuments(ctx context.Context, cat category.Category, limit int) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	args := []any{}
	if cat != "" {
		query += ` WHERE category = ?`
		args = append(args, string(cat))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, *doc)
	}

	return docs, rows.Err()
}

func (c *Client) GetChunks(ctx context.Context, docID string) ([]models.DocumentChunk, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, doc_id, chunk_index, text, created_at FROM document_chunks WHERE doc_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		var createdAt int64
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.ChunkIndex, &ch.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}

	return chunks, rows.Err()
}

// InsertQueryRecord stores a routed query along with its categories and the
// passages used to answer it.
func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error {
	categoriesJSON, err := json.Marshal(category.Strings(record.Categories))
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	followUp := 0
	if record.FollowUp {
		followUp = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_history (id, session_id, user_id, query_text, response, categories,
			routing_mode, follow_up, candidate_count, source_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SessionID,
		record.UserID,
		record.QueryText,
		record.Response,
		string(categoriesJSON),
		record.RoutingMode,
		followUp,
		record.CandidateCount,
		len(sources),
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, cat := range record.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO query_categories (query_id, category) VALUES (?, ?)`, record.ID, string(cat)); err != nil {
			return fmt.Errorf("failed to insert query category: %w", err)
		}
	}

	for _, src := range sources {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO query_sources (query_id, chunk_id, document_id, filename, category, score) VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID, src.ChunkID, src.DocumentID, src.Filename, string(src.Category), src.Score)
		if err != nil {
			return fmt.Errorf("failed to insert query source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}
	record.SourceCount = len(sources)

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Strings("categories", category.Strings(record.Categories)),
		zap.String("mode", record.RoutingMode),
	)

	return nil
}

// GetSessionHistory returns the newest queries recorded for a session.
func (c *Client) GetSessionHistory(ctx context.Context, sessionID string, limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, query_text, response, categories, routing_mode, follow_up,
			candidate_count, source_count, latency_ms, created_at
		FROM query_history
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var categoriesJSON string
		var followUp int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.QueryText, &r.Response, &categoriesJSON,
			&r.RoutingMode, &followUp, &r.CandidateCount, &r.SourceCount, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var names []string
		if err := json.Unmarshal([]byte(categoriesJSON), &names); err != nil {
			logger.Warn("Stored categories undecodable", zap.String("query_id", r.ID), zap.Error(err))
		}
		for _, name := range names {
			if cat, ok := category.Parse(name); ok {
				r.Categories = append(r.Categories, cat)
			}
		}

		r.FollowUp = followUp == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

// CategoryStats reports document, chunk and query counts for every category
// in declared order, including categories with no activity.
func (c *Client) CategoryStats(ctx context.Context) ([]models.CategoryStats, error) {
	stats := make([]models.CategoryStats, len(category.All()))
	for i, cat := range category.All() {
		stats[i].Category = cat
	}

	collect := func(query string, assign func(s *models.CategoryStats, n int)) error {
		rows, err := c.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var cat string
			var n int
			if err := rows.Scan(&cat, &n); err != nil {
				return err
			}
			if i := category.Category(cat).Index(); i >= 0 {
				assign(&stats[i], n)
			}
		}
		return rows.Err()
	}

	queries := []struct {
		sql    string
		assign func(s *models.CategoryStats, n int)
	}{
		{`SELECT category, COUNT(*) FROM documents GROUP BY category`,
			func(s *models.CategoryStats, n int) { s.Documents = n }},
		{`SELECT category, COALESCE(SUM(chunk_count), 0) FROM documents GROUP BY category`,
			func(s *models.CategoryStats, n int) { s.Chunks = n }},
		{`SELECT category, COUNT(*) FROM query_categories GROUP BY category`,
			func(s *models.CategoryStats, n int) { s.Queries = n }},
	}

	for _, q := range queries {
		if err := collect(q.sql, q.assign); err != nil {
			return nil, fmt.Errorf("failed to collect category stats: %w", err)
		}
	}

	return stats, nil
}

func (c *Client) InsertEvaluationRun(ctx context.Context, run *models.EvaluationRun) error {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO evaluation_runs (classifier, total, correct, accuracy, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.Classifier, run.Total, run.Correct, run.Accuracy, run.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert evaluation run: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		run.ID = int(id)
	}
	return nil
}
