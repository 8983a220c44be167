// Package schema loads attribute-type declarations from CUE.
//
// A schema file declares attribute types as a struct of symbol to kind:
//
//	attributeTypes: {
//		name:   "text"
//		parent: "entityRef"
//		avatar: "bytes"
//	}
//
// Kinds are checked by CUE against an embedded definition before the
// symbols are parsed, so kind errors carry file positions.
package schema

import (
	"cmp"
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/attrstore/internal/ir"
)

// definition constrains a schema document. Unknown top-level fields are
// allowed so schema files can carry unrelated configuration.
const definition = `
#Kind: "text" | "entityRef" | "bytes"
#Schema: {
	attributeTypes?: [string]: #Kind
	...
}
`

// Error reports a schema problem, with a position when CUE has one.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads and compiles the schema at path.
func LoadFile(path string) ([]ir.AttributeType, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return compile(path, src)
}

// Compile compiles schema source. The result is sorted by symbol.
func Compile(src []byte) ([]ir.AttributeType, error) {
	return compile("schema.cue", src)
}

func compile(filename string, src []byte) ([]ir.AttributeType, error) {
	ctx := cuecontext.New()

	def := ctx.CompileString(definition)
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("schema definition: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	checked := def.LookupPath(cue.ParsePath("#Schema")).Unify(v)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	typesVal := v.LookupPath(cue.ParsePath("attributeTypes"))
	if !typesVal.Exists() {
		return nil, nil
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.AttributeType
	for iter.Next() {
		label := iter.Selector().Unquoted()
		sym, err := ir.ParseSymbol(label)
		if err != nil {
			return nil, &Error{Field: "attributeTypes", Message: err.Error(), Pos: iter.Value().Pos()}
		}
		if sym.IsReserved() {
			return nil, &Error{
				Field:   "attributeTypes." + label,
				Message: "symbols starting with @ are reserved",
				Pos:     iter.Value().Pos(),
			}
		}

		kindStr, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		kind, err := ir.ParseValueKind(kindStr)
		if err != nil {
			return nil, &Error{Field: "attributeTypes." + label, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		out = append(out, ir.AttributeType{Symbol: sym, ValueKind: kind})
	}

	slices.SortFunc(out, func(a, b ir.AttributeType) int {
		return cmp.Compare(a.Symbol, b.Symbol)
	})
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
