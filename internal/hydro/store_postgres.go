package hydro

import (
	"context"
	"embed"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/db"
	"github.com/sells-group/catchment-cli/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	basinTable = "hydro.basins"

	// migrationLockID serializes concurrent hydro migrations.
	migrationLockID int64 = 8_301_551
)

var basinColumns = []string{"hybas_id", "level", "next_down", "geom"}

// LevelStatus describes the stored dataset of one level.
type LevelStatus struct {
	Level    int        `json:"level" yaml:"level"`
	Basins   int64      `json:"basins" yaml:"basins"`
	LoadedAt *time.Time `json:"loaded_at,omitempty" yaml:"loaded_at,omitempty"`
}

// PostgresStore keeps basin datasets in PostGIS. It implements BasinSource
// and LevelWriter.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a store on pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded hydro schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool, db.Migrations{
		Schema: "hydro",
		LockID: migrationLockID,
		FS:     migrationFS,
	})
}

// Basins returns the dataset of a level ordered by id.
func (s *PostgresStore) Basins(ctx context.Context, level int) ([]model.Basin, error) {
	if err := model.ValidateLevel(level); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT hybas_id, next_down, ST_AsEWKB(geom)
		FROM hydro.basins
		WHERE level = $1
		ORDER BY hybas_id`, level)
	if err != nil {
		return nil, eris.Wrapf(err, "hydro: query basins for level %d", level)
	}
	defer rows.Close()

	var basins []model.Basin
	for rows.Next() {
		b := model.Basin{Level: level}
		var wkb []byte
		if err := rows.Scan(&b.ID, &b.NextDown, &wkb); err != nil {
			return nil, eris.Wrap(err, "hydro: scan basin row")
		}
		if b.Geometry, err = DecodeEWKB(wkb); err != nil {
			return nil, eris.Wrapf(err, "hydro: basin %d", b.ID)
		}
		basins = append(basins, b)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "hydro: iterate basins")
	}
	return basins, nil
}

// ReplaceLevel atomically swaps the stored dataset of a level and records
// the load.
func (s *PostgresStore) ReplaceLevel(ctx context.Context, level int, basins []model.Basin) (int64, error) {
	if err := model.ValidateLevel(level); err != nil {
		return 0, err
	}
	rows, err := basinRows(level, basins)
	if err != nil {
		return 0, err
	}

	n, err := db.ReplaceAll(ctx, s.pool, basinTable, basinColumns, "level = $1", []any{level}, rows)
	if err != nil {
		return 0, err
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO hydro.load_status (level, row_count, loaded_at)
		VALUES ($1, $2, now())
		ON CONFLICT (level) DO UPDATE SET
			row_count = EXCLUDED.row_count,
			loaded_at = now()`,
		level, n,
	); err != nil {
		zap.L().Warn("hydro: failed to record load status", zap.Int("level", level), zap.Error(err))
	}
	return n, nil
}

// BulkUpsert inserts or updates basins without touching other rows.
func (s *PostgresStore) BulkUpsert(ctx context.Context, basins []model.Basin) (int64, error) {
	var rows [][]any
	for _, b := range basins {
		r, err := basinRows(b.Level, []model.Basin{b})
		if err != nil {
			return 0, err
		}
		rows = append(rows, r...)
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        basinTable,
		Columns:      basinColumns,
		ConflictKeys: []string{"hybas_id"},
	}, rows)
}

// Levels returns per-level row counts and last load times.
func (s *PostgresStore) Levels(ctx context.Context) ([]LevelStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.level, COUNT(*), ls.loaded_at
		FROM hydro.basins b
		LEFT JOIN hydro.load_status ls ON ls.level = b.level
		GROUP BY b.level, ls.loaded_at
		ORDER BY b.level`)
	if err != nil {
		return nil, eris.Wrap(err, "hydro: query levels")
	}
	defer rows.Close()

	var out []LevelStatus
	for rows.Next() {
		var ls LevelStatus
		if err := rows.Scan(&ls.Level, &ls.Basins, &ls.LoadedAt); err != nil {
			return nil, eris.Wrap(err, "hydro: scan level row")
		}
		out = append(out, ls)
	}
	return out, eris.Wrap(rows.Err(), "hydro: iterate levels")
}

func basinRows(level int, basins []model.Basin) ([][]any, error) {
	rows := make([][]any, 0, len(basins))
	for _, b := range basins {
		wkb, err := EncodeEWKB(b)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{b.ID, level, b.NextDown, wkb})
	}
	return rows, nil
}
