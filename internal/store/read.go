package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
	"github.com/roach88/attrstore/internal/querysql"
)

// ReadRange returns up to limit records with seq greater than after, in seq
// order. A limit of zero or less returns every remaining record.
func (s *Store) ReadRange(ctx context.Context, after ir.Seq, limit int) ([]ir.MutationRecord, error) {
	query := `
		SELECT seq, record, digest FROM mutations
		WHERE seq > ?
		ORDER BY seq ASC
	`
	args := []any{after}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	defer rows.Close()

	var recs []ir.MutationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("read range: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	return recs, nil
}

// LastSeq returns the highest persisted seq, or 0 for an empty journal.
func (s *Store) LastSeq(ctx context.Context) (ir.Seq, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM mutations`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return ir.Seq(seq.Int64), nil
}

// GetEntity returns the latest live state of id from the materialized
// table. Returns ErrNotFound for unknown or deleted ids.
func (s *Store) GetEntity(ctx context.Context, id ir.EntityID) (*ir.Entity, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT entity FROM entities WHERE entity_id = ? AND deleted = 0
	`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get entity %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %d: %w", id, err)
	}
	return unmarshalEntity(data)
}

// QueryEntities evaluates a query tree against the materialized table and
// returns live matches ordered by id. Unlike the engine, it does not check
// that the named attribute types exist; an unknown symbol matches nothing.
func (s *Store) QueryEntities(ctx context.Context, n queryir.Node) ([]*ir.Entity, error) {
	query, params, err := querysql.NewSQLCompiler().Compile(n)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	out := []*ir.Entity{}
	for rows.Next() {
		var (
			id   int64
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("query entities: %w", err)
		}
		e, err := unmarshalEntity(data)
		if err != nil {
			return nil, fmt.Errorf("query entities: entity %d: %w", id, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	return out, nil
}
