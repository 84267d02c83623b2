package query

import "fmt"

// UnsafeIdentifierError reports a table, field, or operator that failed
// validation and would be unsafe to interpolate into a query.
type UnsafeIdentifierError struct {
	Kind  string // "table", "field", "operator", "direction"
	Value string
}

func (e *UnsafeIdentifierError) Error() string {
	return fmt.Sprintf("unsafe %s: %q", e.Kind, e.Value)
}

// TypeMismatchError reports an operator applied to an incompatible value,
// such as IN without a list.
type TypeMismatchError struct {
	Operator string
	Want     string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s operator requires a %s value", e.Operator, e.Want)
}

// RangeError reports a numeric clause argument outside its allowed range.
type RangeError struct {
	What  string // "limit", "skip", "depth"
	Value int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s out of range: %d", e.What, e.Value)
}
