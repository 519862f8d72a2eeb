// Package warehouse wraps the Snowflake connection and the SQL the pipeline
// runs against it: source extraction queries, target DDL, and the
// staging+MERGE load path.
//
// Error discipline: every helper in this package returns errors; converting
// them into structured stage results happens once, at the pipeline stage
// boundary.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/snowflakedb/gosnowflake"

	"github.com/hughy603/aws-entityresolution/internal/config"
	"github.com/hughy603/aws-entityresolution/internal/records"
)

// Service is a lazily-connected handle to one Snowflake account.
//
// The connection is acquired on first use and must be released with Close on
// every exit path; a single pipeline run never shares a Service between
// goroutines.
type Service struct {
	cfg config.SnowflakeConfig
	log *slog.Logger

	db *sqlx.DB

	// openDB is a test seam; production uses sqlx.Open("snowflake", dsn).
	openDB func(driver, dsn string) (*sqlx.DB, error)
}

// New builds a Service for cfg. No connection is made until first use.
func New(cfg config.SnowflakeConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{cfg: cfg, log: log, openDB: sqlx.Open}
}

// Connect establishes the connection if not already connected.
func (s *Service) Connect(ctx context.Context) error {
	_, err := s.ensure(ctx)
	return err
}

// Close releases the connection. Safe to call without a prior connect and
// safe to call more than once.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

func (s *Service) ensure(ctx context.Context) (*sqlx.DB, error) {
	if s.db != nil {
		return s.db, nil
	}

	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   s.cfg.Account,
		User:      s.cfg.Username,
		Password:  s.cfg.Password,
		Database:  s.cfg.Database,
		Schema:    s.cfg.Schema,
		Warehouse: s.cfg.Warehouse,
		Role:      s.cfg.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("snowflake dsn: %w", err)
	}

	db, err := s.openDB("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("snowflake open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snowflake connect (account %s): %w", s.cfg.Account, err)
	}

	s.log.Debug("snowflake_connected", "account", s.cfg.Account, "database", s.cfg.Database)
	s.db = db
	return db, nil
}

// QualifiedTarget renders the fully qualified target table name for this
// connection's database and schema.
func (s *Service) QualifiedTarget(table string) string {
	return QualifiedTable(s.cfg.Database, s.cfg.Schema, table)
}

// QueryRecords runs query and returns every row as a record with
// lower-cased column keys, the shape the extract stage ships to S3.
func (s *Service) QueryRecords(ctx context.Context, query string) ([]records.Record, error) {
	db, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("snowflake query: %w", err)
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("snowflake scan row %d: %w", len(out)+1, err)
		}
		rec := make(records.Record, len(row))
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec[strings.ToLower(k)] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snowflake rows: %w", err)
	}
	return out, nil
}

// Exec runs one statement and returns the affected row count (0 when the
// driver does not report one).
func (s *Service) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	db, err := s.ensure(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("snowflake exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// TargetColumns returns the column names of table in definition order,
// excluding LAST_UPDATED (server-maintained, never bound from records).
func (s *Service) TargetColumns(ctx context.Context, table string) ([]string, error) {
	db, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryxContext(ctx, "DESC TABLE "+table)
	if err != nil {
		return nil, fmt.Errorf("snowflake describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("snowflake describe %s: %w", table, err)
		}
		name, _ := row["name"].(string)
		if name == "" || strings.EqualFold(name, auditColumn) {
			continue
		}
		cols = append(cols, strings.ToUpper(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snowflake describe %s: %w", table, err)
	}
	return cols, nil
}
