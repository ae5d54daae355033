package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}

// DivideRoundingUp divides value by divisor, rounding up
func DivideRoundingUp[T Number](value T, divisor T) T {
	return (value + divisor - 1) / divisor
}

// IsAligned reports whether value is a multiple of alignment
func IsAligned[T Number](value T, alignment T) bool {
	return value&(alignment-1) == 0
}

type hostAPIFailure struct {
	cause error
}

func (e *hostAPIFailure) Error() string        { return e.cause.Error() }
func (e *hostAPIFailure) Unwrap() error        { return e.cause }
func (e *hostAPIFailure) Is(target error) bool { return target == HostAPIFailureError }

// HostFailure marks err as a HostAPIFailureError and annotates it with the failing call.
// Both the original error and HostAPIFailureError satisfy errors.Is on the result.
// It returns nil when err is nil.
func HostFailure(err error, call string) error {
	if err == nil {
		return nil
	}
	return cerrors.Mark(&hostAPIFailure{cause: cerrors.Wrap(err, call)}, HostAPIFailureError)
}
