// Package sqlite provides a SQLite based implementation of
// [storage.StatusStore].
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lingorelay/lingorelay/internal/build"
	"github.com/lingorelay/lingorelay/pkg/logger"
	"github.com/lingorelay/lingorelay/pkg/storage"
)

var tracer = otel.Tracer("lingorelay/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

// Config holds the tunables for the SQLite store.
type Config struct {
	Logger          logger.Logger
	ExportMetrics   bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func NewConfig() *Config {
	return &Config{
		Logger: logger.NewNoopLogger(),
	}
}

// Store provides a SQLite backed implementation of [storage.StatusStore].
type Store struct {
	stbl             sq.StatementBuilderType
	db               *sql.DB
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
	clock            func() time.Time
}

var _ storage.StatusStore = (*Store)(nil)

// PrepareDSN sets defaults for journal mode and busy timeout if the DSN
// does not specify them.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New creates a new [Store].
func New(uri string, cfg *Config) (*Store, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime != 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime != 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	return &Store{
		stbl:             sq.StatementBuilder.RunWith(db),
		db:               db,
		logger:           cfg.Logger,
		dbStatsCollector: collector,
		clock:            time.Now,
	}, nil
}

// Close see [storage.StatusStore].Close.
func (s *Store) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	_ = s.db.Close()
}

// Create see [storage.StatusStore].Create.
func (s *Store) Create(ctx context.Context, rec *storage.StatusRecord) error {
	ctx, span := startTrace(ctx, "Create")
	defer span.End()

	status := rec.Status
	if status == "" {
		status = storage.StatusPending
	}
	now := s.clock().UTC()

	_, err := s.stbl.
		Insert("translation").
		Columns(
			"id", "status", "text", "translated_text", "error_message",
			"submitter_id", "source_lang", "target_lang", "created_at", "updated_at",
		).
		Values(
			rec.ID, string(status), rec.Text, rec.TranslatedText, rec.ErrorMessage,
			rec.SubmitterID, rec.SourceLang, rec.TargetLang, now, now,
		).
		ExecContext(ctx)
	if err != nil {
		return handleSQLError(err)
	}
	return nil
}

// Get see [storage.StatusStore].Get.
func (s *Store) Get(ctx context.Context, id string) (*storage.StatusRecord, error) {
	ctx, span := startTrace(ctx, "Get")
	defer span.End()

	row := s.stbl.
		Select(
			"id", "status", "text", "translated_text", "error_message",
			"submitter_id", "source_lang", "target_lang", "created_at", "updated_at",
		).
		From("translation").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx)

	return scanRecord(row)
}

// UpdateStatus see [storage.StatusStore].UpdateStatus. The transition is a
// compare-and-set on the status column: the UPDATE only applies when the
// stored status still matches from, which is what makes duplicate
// redeliveries no-ops.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to storage.Status, translatedText, errorMessage string) error {
	ctx, span := startTrace(ctx, "UpdateStatus")
	defer span.End()

	update := s.stbl.
		Update("translation").
		Set("status", string(to)).
		Set("updated_at", s.clock().UTC()).
		Where(sq.Eq{"id": id, "status": string(from)})

	if translatedText != "" {
		update = update.Set("translated_text", translatedText)
	}
	if errorMessage != "" {
		update = update.Set("error_message", errorMessage)
	}

	res, err := update.ExecContext(ctx)
	if err != nil {
		return handleSQLError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return handleSQLError(err)
	}
	if affected == 0 {
		// Either the id is unknown or another worker already moved the
		// record; disambiguate with a lookup.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return storage.ErrStaleTransition
	}
	return nil
}

// ListBySubmitter see [storage.StatusStore].ListBySubmitter.
func (s *Store) ListBySubmitter(ctx context.Context, submitterID string, limit, offset int) ([]*storage.StatusRecord, error) {
	ctx, span := startTrace(ctx, "ListBySubmitter")
	defer span.End()

	query := s.stbl.
		Select(
			"id", "status", "text", "translated_text", "error_message",
			"submitter_id", "source_lang", "target_lang", "created_at", "updated_at",
		).
		From("translation").
		Where(sq.Eq{"submitter_id": submitterID}).
		OrderBy("created_at DESC", "id DESC")

	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	if offset > 0 {
		query = query.Offset(uint64(offset))
	}

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, handleSQLError(err)
	}
	defer rows.Close()

	var recs []*storage.StatusRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, handleSQLError(err)
	}
	return recs, nil
}

// Stats see [storage.StatusStore].Stats.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	ctx, span := startTrace(ctx, "Stats")
	defer span.End()

	rows, err := s.stbl.
		Select("status", "COUNT(*)").
		From("translation").
		GroupBy("status").
		QueryContext(ctx)
	if err != nil {
		return storage.Stats{}, handleSQLError(err)
	}
	defer rows.Close()

	var stats storage.Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return storage.Stats{}, handleSQLError(err)
		}
		stats.Total += count
		switch storage.Status(status) {
		case storage.StatusCompleted:
			stats.Completed += count
		case storage.StatusFailed:
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return storage.Stats{}, handleSQLError(err)
	}
	return stats, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*storage.StatusRecord, error) {
	var rec storage.StatusRecord
	var status string
	err := row.Scan(
		&rec.ID, &status, &rec.Text, &rec.TranslatedText, &rec.ErrorMessage,
		&rec.SubmitterID, &rec.SourceLang, &rec.TargetLang, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, handleSQLError(err)
	}
	rec.Status = storage.Status(status)
	return &rec, nil
}

// handleSQLError maps driver errors onto the shared storage errors.
func handleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return storage.ErrCollision
		}
	}

	return fmt.Errorf("sqlite error: %w", err)
}
