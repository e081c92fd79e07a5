package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"webharvest/internal/config"
	"webharvest/pkg/types"
)

// SQLStore persists results and cookie jars into a relational database via
// database/sql. Postgres is the primary target; the schema sticks to
// portable column types plus JSON-encoded text columns for structured data.
type SQLStore struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLStore opens the configured database, optionally creating it and its
// schema on first use.
func NewSQLStore(cfg config.SQLConfig) (*SQLStore, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	store := &SQLStore{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// SaveResult upserts one scrape result keyed by URL.
func (s *SQLStore) SaveResult(ctx context.Context, result *types.ScrapeResult) error {
	if s == nil || s.db == nil || result == nil {
		return nil
	}
	if err := s.upsertResult(ctx, result); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := s.upsertResult(ctx, result); retryErr != nil {
				return fmt.Errorf("insert result: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *SQLStore) upsertResult(ctx context.Context, result *types.ScrapeResult) error {
	extracted, err := json.Marshal(result.ExtractedData)
	if err != nil {
		return fmt.Errorf("encode extracted data: %w", err)
	}
	links, err := json.Marshal(result.Links)
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	query := `
        INSERT INTO results (
            url, session_id, status, title, content_text, content_html,
            links, visual_hash, http_status, content_type, extracted_data,
            error_message, duplicate, fetched_at, depth, duration_ms
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
        ON CONFLICT (url) DO UPDATE SET
            session_id = EXCLUDED.session_id,
            status = EXCLUDED.status,
            title = EXCLUDED.title,
            content_text = EXCLUDED.content_text,
            content_html = EXCLUDED.content_html,
            links = EXCLUDED.links,
            visual_hash = EXCLUDED.visual_hash,
            http_status = EXCLUDED.http_status,
            content_type = EXCLUDED.content_type,
            extracted_data = EXCLUDED.extracted_data,
            error_message = EXCLUDED.error_message,
            duplicate = EXCLUDED.duplicate,
            fetched_at = EXCLUDED.fetched_at,
            depth = EXCLUDED.depth,
            duration_ms = EXCLUDED.duration_ms
    `
	_, err = s.db.ExecContext(ctx, query,
		result.URL,
		result.SessionID,
		string(result.Status),
		result.Title,
		result.ContentText,
		result.ContentHTML,
		string(links),
		result.VisualHash,
		result.HTTPStatus,
		string(result.ContentType),
		string(extracted),
		result.ErrorMessage,
		result.Duplicate,
		result.FetchedAt,
		result.Depth,
		result.Duration.Milliseconds(),
	)
	return err
}

// PreviousResult loads the stored result for a URL. Only the columns that
// matter for retry decisions and selector healing are rehydrated.
func (s *SQLStore) PreviousResult(ctx context.Context, pageURL string) (*types.ScrapeResult, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := `
        SELECT status, title, content_text, visual_hash, content_type,
               extracted_data, fetched_at, depth
        FROM results WHERE url = $1
    `
	row := s.db.QueryRowContext(ctx, query, pageURL)
	var (
		res       types.ScrapeResult
		status    string
		ctype     string
		extracted string
	)
	err := row.Scan(&status, &res.Title, &res.ContentText, &res.VisualHash,
		&ctype, &extracted, &res.FetchedAt, &res.Depth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isUndefinedTableErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load result: %w", err)
	}
	res.URL = pageURL
	res.Status = types.Status(status)
	res.ContentType = types.ContentType(ctype)
	if extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &res.ExtractedData); err != nil {
			return nil, fmt.Errorf("decode extracted data: %w", err)
		}
	}
	return &res, nil
}

// LoadCookies returns the stored cookie jar for a domain.
func (s *SQLStore) LoadCookies(ctx context.Context, domain string) ([]types.Cookie, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT cookies FROM cookie_jars WHERE domain = $1`, domain)
	var encoded string
	err := row.Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isUndefinedTableErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	var cookies []types.Cookie
	if err := json.Unmarshal([]byte(encoded), &cookies); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	return cookies, nil
}

// SaveCookies replaces the stored jar for a domain.
func (s *SQLStore) SaveCookies(ctx context.Context, domain string, cookies []types.Cookie) error {
	if s == nil || s.db == nil {
		return nil
	}
	encoded, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	query := `
        INSERT INTO cookie_jars (domain, cookies, updated_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (domain) DO UPDATE SET
            cookies = EXCLUDED.cookies,
            updated_at = EXCLUDED.updated_at
    `
	if _, err := s.db.ExecContext(ctx, query, domain, string(encoded), time.Now().UTC()); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if _, retryErr := s.db.ExecContext(ctx, query, domain, string(encoded), time.Now().UTC()); retryErr != nil {
				return fmt.Errorf("save cookies: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("save cookies: %w", err)
	}
	return nil
}

// Close closes the underlying DB connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS results (
		    url TEXT PRIMARY KEY,
		    session_id TEXT,
		    status TEXT,
		    title TEXT,
		    content_text TEXT,
		    content_html TEXT,
		    links TEXT,
		    visual_hash TEXT,
		    http_status INT,
		    content_type TEXT,
		    extracted_data TEXT,
		    error_message TEXT,
		    duplicate BOOLEAN DEFAULT FALSE,
		    fetched_at TIMESTAMPTZ,
		    depth INT,
		    duration_ms BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_fetched_at ON results (fetched_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_results_content_type ON results (content_type)`,
		`CREATE TABLE IF NOT EXISTS cookie_jars (
		    domain TEXT PRIMARY KEY,
		    cookies TEXT,
		    updated_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
