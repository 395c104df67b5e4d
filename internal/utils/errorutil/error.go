package errorutil

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Error kinds shared by every pipeline stage. Callers match them with errors.Is;
// stages add context by wrapping with %w.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrIngestion         = errors.New("ingestion failed")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrShapeMismatch     = errors.New("shape mismatch")
	ErrEmptyInput        = errors.New("empty input")
	ErrInvalidFraction   = errors.New("invalid fraction")
	ErrInvalidInput      = errors.New("invalid input")
)

// HandleError is a utility function for handling errors with logging
func HandleError(log zerolog.Logger, err error, msg string) {
	if err != nil {
		log.Error().Err(err).Msg(msg)
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Wrapf attaches a sentinel kind to a formatted message.
func Wrapf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
