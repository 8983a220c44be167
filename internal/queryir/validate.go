package queryir

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError lists every structural problem found in a tree.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, "; ")
}

// Validate checks that a tree is well-formed: no nil nodes, only known
// variants, and valid symbols. It does not consult the attribute-type
// registry.
//
// Validate is a pure function with no side effects.
func Validate(n Node) error {
	v := &validator{}
	v.validate(n, "root", 0)
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validate(n Node, path string, depth int) {
	if depth > MaxDepth {
		v.addProblem("%s: exceeds maximum depth %d", path, MaxDepth)
		return
	}
	switch node := n.(type) {
	case nil:
		v.addProblem("%s: nil query node", path)
	case MatchAll, MatchNone:
	case And:
		for i, c := range node.Clauses {
			v.validate(c, fmt.Sprintf("%s.and[%d]", path, i), depth+1)
		}
	case Or:
		for i, c := range node.Clauses {
			v.validate(c, fmt.Sprintf("%s.or[%d]", path, i), depth+1)
		}
	case HasAttributeTypes:
		for i, s := range node.AttributeTypes {
			if !s.Valid() {
				v.addProblem("%s.hasAttributeTypes[%d]: %q is not a valid symbol name", path, i, string(s))
			}
		}
	default:
		v.addProblem("%s: unsupported query node type %T", path, n)
	}
}
