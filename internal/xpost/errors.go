package xpost

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured matches every MissingEnvError.
var ErrNotConfigured = errors.New("connector not configured")

// MissingEnvError is returned when a connector's credentials are missing.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

func (e MissingEnvError) Is(target error) bool { return target == ErrNotConfigured }

// ValidationError is a request the network cannot accept, such as a media
// kind it does not take.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// RequireEnv returns a MissingEnvError naming every blank variable, given
// name/value pairs.
func RequireEnv(provider string, pairs ...[2]string) error {
	var missing []string
	for _, p := range pairs {
		if strings.TrimSpace(p[1]) == "" {
			missing = append(missing, p[0])
		}
	}
	if len(missing) > 0 {
		return MissingEnvError{Provider: provider, Variables: missing}
	}
	return nil
}
