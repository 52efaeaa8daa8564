package authority

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/derive"
	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/mirror"
)

// PostgresStore persists trees, leaves, and change events to PostgreSQL.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Migrate creates the store's tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS gpl_trees (
	tree_id         TEXT PRIMARY KEY,
	config_address  TEXT NOT NULL,
	max_depth       INT NOT NULL,
	max_buffer_size INT NOT NULL,
	root            TEXT NOT NULL,
	last_seq        BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS gpl_leaves (
	tree_id TEXT NOT NULL REFERENCES gpl_trees(tree_id),
	idx     BIGINT NOT NULL,
	digest  TEXT NOT NULL,
	PRIMARY KEY (tree_id, idx)
);
CREATE TABLE IF NOT EXISTS gpl_tree_events (
	tree_id TEXT NOT NULL REFERENCES gpl_trees(tree_id),
	seq     BIGINT NOT NULL,
	idx     BIGINT NOT NULL,
	digest  TEXT NOT NULL,
	PRIMARY KEY (tree_id, seq)
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate authority schema: %w", err)
	}
	return nil
}

// advisoryKey maps a tree id onto a PostgreSQL advisory lock key so that
// concurrent SetLeaf calls for the same tree serialize across instances.
func advisoryKey(treeID hashing.Digest) int64 {
	return int64(binary.BigEndian.Uint64(treeID[:8])) //nolint:gosec // lock key, not arithmetic
}

// CreateTree implements Store.
func (s *PostgresStore) CreateTree(ctx context.Context, cfg TreeConfig) (*TreeInfo, error) {
	// Validate parameters and compute the empty root with the same tree
	// engine the mirrors use.
	empty, err := mirror.New(cfg.MaxDepth, cfg.MaxBufferSize)
	if err != nil {
		return nil, err
	}

	info := &TreeInfo{
		Config:        cfg,
		ConfigAddress: derive.ConfigAddress(cfg.TreeID),
		CreatedAt:     time.Now().UTC(),
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO gpl_trees (tree_id, config_address, max_depth, max_buffer_size, root, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tree_id) DO NOTHING`,
		cfg.TreeID.String(), info.ConfigAddress.String(),
		cfg.MaxDepth, cfg.MaxBufferSize,
		empty.Root().String(), info.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert tree: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTreeExists, cfg.TreeID)
	}

	s.logger.Info("tree created",
		zap.String("tree_id", cfg.TreeID.String()),
		zap.Uint("max_depth", cfg.MaxDepth),
		zap.Uint("max_buffer_size", cfg.MaxBufferSize),
	)
	return info, nil
}

// GetTree implements Store.
func (s *PostgresStore) GetTree(ctx context.Context, treeID hashing.Digest) (*TreeInfo, error) {
	return s.scanTree(s.pool.QueryRow(ctx,
		`SELECT tree_id, config_address, max_depth, max_buffer_size, created_at
		 FROM gpl_trees WHERE tree_id = $1`, treeID.String()))
}

// Trees implements Store.
func (s *PostgresStore) Trees(ctx context.Context) ([]*TreeInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tree_id, config_address, max_depth, max_buffer_size, created_at
		 FROM gpl_trees ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list trees: %w", err)
	}
	defer rows.Close()

	var out []*TreeInfo
	for rows.Next() {
		info, err := s.scanTree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanTree(row rowScanner) (*TreeInfo, error) {
	var (
		treeHex, cfgHex string
		depth, bufSize  uint
		createdAt       time.Time
	)
	if err := row.Scan(&treeHex, &cfgHex, &depth, &bufSize, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreeNotFound
		}
		return nil, fmt.Errorf("scan tree: %w", err)
	}

	treeID, err := hashing.Parse(treeHex)
	if err != nil {
		return nil, fmt.Errorf("stored tree id: %w", err)
	}
	cfgAddr, err := hashing.Parse(cfgHex)
	if err != nil {
		return nil, fmt.Errorf("stored config address: %w", err)
	}
	return &TreeInfo{
		Config:        TreeConfig{TreeID: treeID, MaxDepth: depth, MaxBufferSize: bufSize},
		ConfigAddress: cfgAddr,
		CreatedAt:     createdAt,
	}, nil
}

// SetLeaf implements Store. The leaf write, the root update, and the change
// event are committed in one transaction under a per-tree advisory lock, so
// at most one structural mutation per tree is in flight at a time.
func (s *PostgresStore) SetLeaf(ctx context.Context, treeID hashing.Digest, index uint64, digest hashing.Digest) (ChangeEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(treeID)); err != nil {
		return ChangeEvent{}, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var (
		depth, bufSize uint
		lastSeq        uint64
	)
	err = tx.QueryRow(ctx,
		`SELECT max_depth, max_buffer_size, last_seq FROM gpl_trees WHERE tree_id = $1`,
		treeID.String(),
	).Scan(&depth, &bufSize, &lastSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChangeEvent{}, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("read tree: %w", err)
	}

	if index >= uint64(1)<<depth {
		return ChangeEvent{}, fmt.Errorf("%w: index %d, capacity %d", mirror.ErrIndexOutOfRange, index, uint64(1)<<depth)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO gpl_leaves (tree_id, idx, digest) VALUES ($1, $2, $3)
		 ON CONFLICT (tree_id, idx) DO UPDATE SET digest = EXCLUDED.digest`,
		treeID.String(), index, digest.String(),
	); err != nil {
		return ChangeEvent{}, fmt.Errorf("upsert leaf: %w", err)
	}

	root, err := s.rebuildRoot(ctx, tx, treeID, depth, bufSize)
	if err != nil {
		return ChangeEvent{}, err
	}

	ev := ChangeEvent{TreeID: treeID, Seq: lastSeq + 1, Index: index, Digest: digest}
	if _, err := tx.Exec(ctx,
		`UPDATE gpl_trees SET root = $1, last_seq = $2 WHERE tree_id = $3`,
		root.String(), ev.Seq, treeID.String(),
	); err != nil {
		return ChangeEvent{}, fmt.Errorf("update root: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO gpl_tree_events (tree_id, seq, idx, digest) VALUES ($1, $2, $3, $4)`,
		treeID.String(), ev.Seq, ev.Index, ev.Digest.String(),
	); err != nil {
		return ChangeEvent{}, fmt.Errorf("insert change event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ChangeEvent{}, fmt.Errorf("commit leaf write: %w", err)
	}

	s.logger.Debug("leaf written",
		zap.String("tree_id", treeID.String()),
		zap.Uint64("seq", ev.Seq),
		zap.Uint64("index", index),
	)
	return ev, nil
}

// rebuildRoot loads the tree's occupied leaves inside tx and recomputes the
// root with the shared tree engine.
func (s *PostgresStore) rebuildRoot(ctx context.Context, tx pgx.Tx, treeID hashing.Digest, depth, bufSize uint) (hashing.Digest, error) {
	rows, err := tx.Query(ctx,
		`SELECT idx, digest FROM gpl_leaves WHERE tree_id = $1`, treeID.String())
	if err != nil {
		return hashing.Digest{}, fmt.Errorf("load leaves: %w", err)
	}
	defer rows.Close()

	t, err := mirror.New(depth, bufSize)
	if err != nil {
		return hashing.Digest{}, err
	}
	for rows.Next() {
		var (
			idx    uint64
			digHex string
		)
		if err := rows.Scan(&idx, &digHex); err != nil {
			return hashing.Digest{}, fmt.Errorf("scan leaf: %w", err)
		}
		d, err := hashing.Parse(digHex)
		if err != nil {
			return hashing.Digest{}, fmt.Errorf("stored leaf digest: %w", err)
		}
		if err := t.SetLeaf(idx, d); err != nil {
			return hashing.Digest{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return hashing.Digest{}, fmt.Errorf("iterate leaves: %w", err)
	}
	return t.Root(), nil
}

// Root implements Store.
func (s *PostgresStore) Root(ctx context.Context, treeID hashing.Digest) (hashing.Digest, error) {
	var rootHex string
	err := s.pool.QueryRow(ctx,
		`SELECT root FROM gpl_trees WHERE tree_id = $1`, treeID.String(),
	).Scan(&rootHex)
	if errors.Is(err, pgx.ErrNoRows) {
		return hashing.Digest{}, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	if err != nil {
		return hashing.Digest{}, fmt.Errorf("read root: %w", err)
	}
	return hashing.Parse(rootHex)
}

// Leaves implements Store. Only stored rows are returned; the result is
// ordered by index and sized by content, never by 2^depth.
func (s *PostgresStore) Leaves(ctx context.Context, treeID hashing.Digest) ([]mirror.LeafRecord, error) {
	info, err := s.GetTree(ctx, treeID)
	if err != nil {
		return nil, err
	}
	capacity := uint64(1) << info.Config.MaxDepth

	rows, err := s.pool.Query(ctx,
		`SELECT idx, digest FROM gpl_leaves WHERE tree_id = $1 ORDER BY idx`, treeID.String())
	if err != nil {
		return nil, fmt.Errorf("load leaves: %w", err)
	}
	defer rows.Close()

	var leaves []mirror.LeafRecord
	for rows.Next() {
		var (
			rec    mirror.LeafRecord
			digHex string
		)
		if err := rows.Scan(&rec.Index, &digHex); err != nil {
			return nil, fmt.Errorf("scan leaf: %w", err)
		}
		if rec.Digest, err = hashing.Parse(digHex); err != nil {
			return nil, fmt.Errorf("stored leaf digest: %w", err)
		}
		if rec.Index >= capacity {
			return nil, fmt.Errorf("%w: stored index %d, capacity %d", mirror.ErrIndexOutOfRange, rec.Index, capacity)
		}
		leaves = append(leaves, rec)
	}
	return leaves, rows.Err()
}

// Events implements Store.
func (s *PostgresStore) Events(ctx context.Context, treeID hashing.Digest, fromSeq uint64) ([]ChangeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, idx, digest FROM gpl_tree_events
		 WHERE tree_id = $1 AND seq > $2 ORDER BY seq`,
		treeID.String(), fromSeq)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []ChangeEvent
	for rows.Next() {
		ev := ChangeEvent{TreeID: treeID}
		var digHex string
		if err := rows.Scan(&ev.Seq, &ev.Index, &digHex); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Digest, err = hashing.Parse(digHex); err != nil {
			return nil, fmt.Errorf("stored event digest: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
