package fees

import (
	"context"
	"database/sql"
	"exec_optimizer/internal/core"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fee_exchanges (
	exchange        TEXT PRIMARY KEY,
	discount_factor TEXT NOT NULL DEFAULT '0'
);
CREATE TABLE IF NOT EXISTS fee_tiers (
	exchange   TEXT NOT NULL REFERENCES fee_exchanges(exchange),
	min_volume TEXT NOT NULL,
	maker      TEXT NOT NULL,
	taker      TEXT NOT NULL,
	PRIMARY KEY (exchange, min_volume)
);
CREATE TABLE IF NOT EXISTS fee_meta (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);`

// SQLiteStore keeps fee tables in SQLite. Decimals are stored as text to
// avoid float rounding.
type SQLiteStore struct {
	db     *sql.DB
	logger core.ILogger
}

// NewSQLiteStore opens the database and creates the schema if needed
func NewSQLiteStore(dbPath string, logger core.ILogger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create fee schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Save replaces the stored tables with the directory contents
func (s *SQLiteStore) Save(ctx context.Context, dir *Directory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range []string{`DELETE FROM fee_tiers`, `DELETE FROM fee_exchanges`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear fee tables: %w", err)
		}
	}

	for _, name := range dir.Exchanges() {
		table, _ := dir.Table(name)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fee_exchanges (exchange, discount_factor) VALUES (?, ?)`,
			name, table.DiscountFactor.String()); err != nil {
			return fmt.Errorf("failed to write exchange %s: %w", name, err)
		}
		for _, t := range table.Tiers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO fee_tiers (exchange, min_volume, maker, taker) VALUES (?, ?, ?, ?)`,
				name, t.MinVolume.String(), t.Maker.String(), t.Taker.String()); err != nil {
				return fmt.Errorf("failed to write tier %s/%s: %w", name, t.MinVolume, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO fee_meta (id, version) VALUES (1, ?)`, dir.Version()); err != nil {
		return fmt.Errorf("failed to write fee version: %w", err)
	}

	return tx.Commit()
}

// Load reads all tables into a validated directory
func (s *SQLiteStore) Load(ctx context.Context) (*Directory, error) {
	tables := make(map[string]ExchangeFees)

	rows, err := s.db.QueryContext(ctx, `SELECT exchange, discount_factor FROM fee_exchanges`)
	if err != nil {
		return nil, fmt.Errorf("failed to read exchanges: %w", err)
	}
	for rows.Next() {
		var name, discount string
		if err := rows.Scan(&name, &discount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		df, err := decimal.NewFromString(discount)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid discount for %s: %w", name, err)
		}
		tables[name] = ExchangeFees{DiscountFactor: df}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tierRows, err := s.db.QueryContext(ctx, `SELECT exchange, min_volume, maker, taker FROM fee_tiers`)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiers: %w", err)
	}
	defer tierRows.Close()

	for tierRows.Next() {
		var name, minVolume, maker, taker string
		if err := tierRows.Scan(&name, &minVolume, &maker, &taker); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		t, err := parseTier(minVolume, maker, taker)
		if err != nil {
			return nil, fmt.Errorf("invalid tier for %s: %w", name, err)
		}
		table := tables[name]
		table.Tiers = append(table.Tiers, t)
		tables[name] = table
	}
	if err := tierRows.Err(); err != nil {
		return nil, err
	}

	dir, err := NewDirectory(tables, s.logger)
	if err != nil {
		return nil, err
	}

	var version int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM fee_meta WHERE id = 1`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read fee version: %w", err)
	}
	if version > 0 {
		dir = dir.WithVersion(version)
	}
	return dir, nil
}

func parseTier(minVolume, maker, taker string) (Tier, error) {
	var t Tier
	var err error
	if t.MinVolume, err = decimal.NewFromString(minVolume); err != nil {
		return Tier{}, err
	}
	if t.Maker, err = decimal.NewFromString(maker); err != nil {
		return Tier{}, err
	}
	if t.Taker, err = decimal.NewFromString(taker); err != nil {
		return Tier{}, err
	}
	return t, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
