package jobs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidParams wraps every parameter validation failure.
	ErrInvalidParams = errors.New("invalid job parameters")
	// ErrUnknownKind is returned for kinds outside AllKinds.
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrReadOnly is returned when a read-only store is asked to admit work.
	// Other mutators on a read-only store report false or zero instead.
	ErrReadOnly = errors.New("job store is read-only")
)

func invalidParams(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// describeValidation flattens validator field errors into one line keyed by
// the JSON field names callers actually send.
func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch {
		case fe.Tag() == "required":
			parts = append(parts, fe.Field()+" is required")
		case fe.Param() != "":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
