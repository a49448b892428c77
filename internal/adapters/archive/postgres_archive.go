// Package archive copies ingested raw samples into Postgres (or TimescaleDB)
// for offline analysis. The engine never reads them back.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

var _ ports.Sink = (*PostgresArchive)(nil)

const columnsPerRow = 6

// Postgres caps bind parameters per statement at 65535.
const maxRowsPerStatement = 65535 / columnsPerRow

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type PostgresArchive struct {
	db    *sql.DB
	table string
}

func NewPostgresArchive(db *sql.DB, table string) (*PostgresArchive, error) {
	if db == nil {
		return nil, fmt.Errorf("archive: db is required")
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("archive: invalid table name %q", table)
	}
	return &PostgresArchive{db: db, table: table}, nil
}

func (a *PostgresArchive) Name() string { return "postgres" }

// EnsureSchema creates the archive table when it does not exist yet.
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+a.table+` (
	channel TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	seq BIGINT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	source_node_id TEXT NOT NULL DEFAULT '',
	transform_ver INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (channel, ts, seq)
)`)
	if err != nil {
		return fmt.Errorf("archive: ensure schema: %w", err)
	}
	return nil
}

func (a *PostgresArchive) WriteBatch(samples []*domain.Sample) error {
	return a.WriteBatchContext(context.Background(), samples)
}

// WriteBatchContext inserts samples, ignoring rows already archived. Batches
// larger than one statement allows are written in a single transaction.
func (a *PostgresArchive) WriteBatchContext(ctx context.Context, samples []*domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	if len(samples) <= maxRowsPerStatement {
		query, args := a.insert(samples)
		_, err := a.db.ExecContext(ctx, query, args...)
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	for start := 0; start < len(samples); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(samples) {
			end = len(samples)
		}
		query, args := a.insert(samples[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("archive: insert rows %d-%d: %w", start, end, err)
		}
	}
	return tx.Commit()
}

func (a *PostgresArchive) insert(samples []*domain.Sample) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(a.table)
	b.WriteString(" (channel, ts, seq, value, source_node_id, transform_ver) VALUES ")

	args := make([]any, 0, len(samples)*columnsPerRow)
	for i, s := range samples {
		if i > 0 {
			b.WriteByte(',')
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, s.Channel, s.Timestamp, int64(s.Seq), s.Value, s.SourceNodeID, int32(s.TransformVer))
	}
	b.WriteString(" ON CONFLICT (channel, ts, seq) DO NOTHING")
	return b.String(), args
}
