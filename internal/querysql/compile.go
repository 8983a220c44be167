// Package querysql compiles entity query trees to parameterized SQLite.
//
// The generated SQL runs against the journal's materialized tables:
//
//	entities(entity_id, version, entity, deleted)
//	entity_attributes(entity_id, symbol)
//
// The journal keeps both in step with the mutations table, so a compiled
// query over a journal file returns the same entities the live store would
// at the journal's last seq.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
)

// SQLCompiler compiles query trees to SQL for SQLite.
//
// CRITICAL: every SELECT ends in ORDER BY entity_id so results are ordered
// the same way the in-memory store orders them.
// CRITICAL: symbols are always bound as parameters, never interpolated.
type SQLCompiler struct {
	// Alias is the table alias used for entities. Default "e".
	Alias string
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Alias: "e"}
}

// Compile converts a query tree into a SELECT over live entities returning
// (entity_id, entity) rows. Returns (sql, params, error).
func (c *SQLCompiler) Compile(n queryir.Node) (string, []any, error) {
	if err := queryir.Validate(n); err != nil {
		return "", nil, fmt.Errorf("compile query: %w", err)
	}
	where, params, err := c.CompileWhere(n)
	if err != nil {
		return "", nil, err
	}
	a := c.alias()
	sql := fmt.Sprintf("SELECT %[1]s.entity_id, %[1]s.entity FROM entities %[1]s WHERE %[1]s.deleted = 0 AND %[2]s ORDER BY %[1]s.entity_id ASC",
		a, where)
	return sql, params, nil
}

// CompileWhere converts a query tree into a boolean SQL expression over the
// entities alias.
func (c *SQLCompiler) CompileWhere(n queryir.Node) (string, []any, error) {
	switch node := n.(type) {
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil query node")
	case queryir.MatchAll:
		return "1 = 1", nil, nil
	case queryir.MatchNone:
		return "1 = 0", nil, nil
	case queryir.And:
		return c.compileJunction(node.Clauses, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(node.Clauses, " OR ", "1 = 0")
	case queryir.HasAttributeTypes:
		return c.compileHas(node)
	default:
		return "", nil, fmt.Errorf("unsupported query node type: %T", n)
	}
}

// compileJunction joins clauses with op. An empty list yields the identity
// element of op.
func (c *SQLCompiler) compileJunction(clauses []queryir.Node, op, identity string) (string, []any, error) {
	if len(clauses) == 0 {
		return identity, nil, nil
	}

	parts := make([]string, 0, len(clauses))
	var params []any
	for _, clause := range clauses {
		sql, p, err := c.CompileWhere(clause)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return "(" + strings.Join(parts, op) + ")", params, nil
}

// compileHas emits one EXISTS probe per symbol. @id is set on every entity
// and needs no probe.
func (c *SQLCompiler) compileHas(h queryir.HasAttributeTypes) (string, []any, error) {
	var parts []string
	var params []any
	for _, sym := range h.AttributeTypes {
		if sym == ir.SymbolEntityID {
			continue
		}
		parts = append(parts, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM entity_attributes ea WHERE ea.entity_id = %s.entity_id AND ea.symbol = ?)",
			c.alias()))
		params = append(params, string(sym))
	}
	if len(parts) == 0 {
		return "1 = 1", nil, nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

func (c *SQLCompiler) alias() string {
	if c.Alias == "" {
		return "e"
	}
	return c.Alias
}
