package course

import (
	"fmt"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdentifier checks a platform identifier (module plugin name,
// setting/column name, table prefix) before it is used to address storage.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("identifier length %d exceeds maximum of 64 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q must match pattern ^[a-z_][a-z0-9_]*$", name)
	}
	return nil
}
