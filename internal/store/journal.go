package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/attrstore/internal/ir"
)

// Append persists one mutation record and updates the materialized tables
// in a single transaction. A record whose seq is already present fails on
// the primary key; the journal never overwrites history.
func (s *Store) Append(ctx context.Context, rec ir.MutationRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	record, digest, err := marshalRecord(rec)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %d: %w", rec.Seq, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mutations (seq, entity_id, op, record, digest)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Seq, rec.EntityID, string(rec.Op), record, digest)
	if err != nil {
		return fmt.Errorf("append %d: %w", rec.Seq, err)
	}

	if err := materialize(ctx, tx, rec); err != nil {
		return fmt.Errorf("append %d: %w", rec.Seq, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append %d: %w", rec.Seq, err)
	}
	return nil
}

// Replay streams every persisted record in seq order. Each record is
// decoded and checked against its digest before fn sees it; the first
// error stops the replay.
func (s *Store) Replay(ctx context.Context, fn func(ir.MutationRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, record, digest FROM mutations ORDER BY seq ASC
	`)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}

func scanRecord(rows *sql.Rows) (ir.MutationRecord, error) {
	var (
		seq            int64
		record, digest string
	)
	if err := rows.Scan(&seq, &record, &digest); err != nil {
		return ir.MutationRecord{}, err
	}
	rec, err := unmarshalRecord(record, digest)
	if err != nil {
		return ir.MutationRecord{}, fmt.Errorf("%w: row %d: %v", ErrCorrupt, seq, err)
	}
	if int64(rec.Seq) != seq {
		return ir.MutationRecord{}, fmt.Errorf("%w: row %d holds record %d", ErrCorrupt, seq, rec.Seq)
	}
	return rec, nil
}

// materialize applies rec to the entities and entity_attributes tables.
// Deleted entities keep their last state with deleted = 1.
func materialize(ctx context.Context, tx *sql.Tx, rec ir.MutationRecord) error {
	state, deleted := rec.After, 0
	if rec.Op == ir.OpDelete {
		state, deleted = rec.Before, 1
	}
	entity, err := marshalEntity(state)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (entity_id, version, entity, deleted)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			version = excluded.version,
			entity = excluded.entity,
			deleted = excluded.deleted
	`, rec.EntityID, rec.Seq, entity, deleted); err != nil {
		return fmt.Errorf("materialize entity %d: %w", rec.EntityID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM entity_attributes WHERE entity_id = ?
	`, rec.EntityID); err != nil {
		return fmt.Errorf("materialize attributes %d: %w", rec.EntityID, err)
	}
	if deleted == 1 {
		return nil
	}
	for _, sym := range rec.After.Attributes.SortedSymbols() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_attributes (entity_id, symbol) VALUES (?, ?)
		`, rec.EntityID, string(sym)); err != nil {
			return fmt.Errorf("materialize attribute %d/%s: %w", rec.EntityID, sym, err)
		}
	}
	return nil
}

// rebuildMaterialized recomputes the materialized tables from mutations.
func rebuildMaterialized(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_attributes`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, record, digest FROM mutations ORDER BY seq ASC
	`)
	if err != nil {
		return err
	}
	var recs []ir.MutationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, rec := range recs {
		if err := materialize(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}
