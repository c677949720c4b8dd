package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ideamans/bsnlink/pkg/gate/config"
)

// formatConfigError formats configuration errors with helpful messages
func formatConfigError(err error) error {
	var validationErr *config.ValidationError
	if errors.As(err, &validationErr) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Configuration validation failed with %d error(s):\n\n", len(validationErr.Problems))
		for i, p := range validationErr.Problems {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, p)
		}
		sb.WriteString("\nPlease fix the errors above in your configuration file.")
		return errors.New(sb.String())
	}

	if errors.Is(err, config.ErrConfigFileNotFound) {
		return fmt.Errorf("%v - please create a configuration file or specify the correct path with --config flag", err)
	}

	if errors.Is(err, config.ErrUnsupportedFormat) {
		return fmt.Errorf("%v - please rename the configuration file", err)
	}

	return fmt.Errorf("failed to initialize gate: %w", err)
}
