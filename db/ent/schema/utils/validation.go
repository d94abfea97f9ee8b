package utils

import (
	"fmt"
	"strings"
)

// EnumValidator returns a field validator that rejects any value outside the
// allowed set, naming the offending value and the set in the error.
func EnumValidator(allowed ...string) func(string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(s string) error {
		if _, ok := set[s]; ok {
			return nil
		}
		return fmt.Errorf("value %q is not one of [%s]", s, strings.Join(allowed, ", "))
	}
}
