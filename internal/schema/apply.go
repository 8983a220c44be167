package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/registry"
)

// TypeStore is the part of the entity store that Apply needs.
type TypeStore interface {
	CreateAttributeType(ctx context.Context, at ir.AttributeType) (*ir.Entity, error)
	Registry() *registry.Registry
}

// ApplyResult lists what Apply did, in schema order.
type ApplyResult struct {
	Created  []ir.Symbol
	Existing []ir.Symbol
}

// Apply makes sure every declared type exists in the store. A type that is
// already registered with the same kind is left alone; one registered with
// a different kind is an error, since kinds never change.
func Apply(ctx context.Context, s TypeStore, types []ir.AttributeType, logger *slog.Logger) (ApplyResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var res ApplyResult
	for _, at := range types {
		if entry, ok := s.Registry().Lookup(at.Symbol); ok {
			if entry.Type.ValueKind != at.ValueKind {
				return res, fmt.Errorf("attribute type %q is registered as %s, schema declares %s",
					at.Symbol, entry.Type.ValueKind, at.ValueKind)
			}
			res.Existing = append(res.Existing, at.Symbol)
			continue
		}

		_, err := s.CreateAttributeType(ctx, at)
		if engine.IsAlreadyExists(err) {
			// Created concurrently; recheck the kind.
			entry, ok := s.Registry().Lookup(at.Symbol)
			if ok && entry.Type.ValueKind == at.ValueKind {
				res.Existing = append(res.Existing, at.Symbol)
				continue
			}
		}
		if err != nil {
			return res, fmt.Errorf("create attribute type %q: %w", at.Symbol, err)
		}
		logger.Info("schema attribute type created", "symbol", at.Symbol, "kind", at.ValueKind.String())
		res.Created = append(res.Created, at.Symbol)
	}
	return res, nil
}
