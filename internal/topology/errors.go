package topology

import (
	"fmt"
	"strings"
)

// ValidationError collects the issues found while loading static topology
// data. Loading continues past every issue, so a non-nil ValidationError is
// accompanied by a usable (degraded) result.
type ValidationError struct {
	Source string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d validation issue(s): %s", e.Source, len(e.Issues), strings.Join(e.Issues, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

// err returns nil when nothing was recorded
func (e *ValidationError) err() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}
