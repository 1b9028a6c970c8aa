package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidOperand is returned (or carried by a panic) when an operation
	// receives something it cannot turn into a graph node or an exponent.
	ErrInvalidOperand = errors.New("invalid operand")

	// ErrNotLeaf is returned by SetData on a node produced by an operation.
	ErrNotLeaf = errors.New("value is not a leaf")
)

// OperandError describes which operation rejected which operand.
type OperandError struct {
	Op     string
	Reason string
}

func (e *OperandError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrInvalidOperand, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidOperand.
func (e *OperandError) Unwrap() error { return ErrInvalidOperand }

func invalidOperand(op, format string, args ...any) *OperandError {
	return &OperandError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Exponent converts p to a float64 power for Pow.
// Every Go numeric kind is accepted; anything else fails with ErrInvalidOperand.
func Exponent(p any) (float64, error) {
	switch x := p.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case Literal:
		return float64(x), nil
	case Value:
		return 0, errors.WithStack(invalidOperand("pow", "exponent must be a constant, got graph node %s", x))
	default:
		return 0, errors.WithStack(invalidOperand("pow", "only supports numeric powers, got %T", p))
	}
}
