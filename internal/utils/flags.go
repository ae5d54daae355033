package utils

import (
	"math/bits"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// FlagStringMapping names the individual bits of a flag type so combined values print as
// "FlagA|FlagB" and configuration files can refer to flags by name
type FlagStringMapping[T constraints.Integer] struct {
	names  map[T]string
	values map[string]T
}

func NewFlagStringMapping[T constraints.Integer]() *FlagStringMapping[T] {
	return &FlagStringMapping[T]{
		names:  make(map[T]string),
		values: make(map[string]T),
	}
}

func (m *FlagStringMapping[T]) Register(value T, str string) {
	m.names[value] = str
	m.values[str] = value
}

func (m *FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var sb strings.Builder
	for remaining := uint64(value); remaining != 0; {
		bit := uint64(1) << bits.TrailingZeros64(remaining)
		remaining &^= bit

		if sb.Len() > 0 {
			sb.WriteString("|")
		}

		name, ok := m.names[T(bit)]
		if !ok {
			name = "Unknown"
		}
		sb.WriteString(name)
	}

	return sb.String()
}

// Parse combines the flags named in strs
func (m *FlagStringMapping[T]) Parse(strs []string) (T, error) {
	var value T
	for _, str := range strs {
		flag, ok := m.values[strings.TrimSpace(str)]
		if !ok {
			return 0, errors.Newf("unknown flag %q", str)
		}
		value |= flag
	}
	return value, nil
}
