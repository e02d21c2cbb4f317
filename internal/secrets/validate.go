package secrets

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError lists required settings that are unset.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
}

// ValidateRequired checks that every named setting has a non-blank value.
// The error lists the missing names in sorted order.
func ValidateRequired(settings map[string]string) error {
	var missing []string
	for key, value := range settings {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &ValidationError{Missing: missing}
}
