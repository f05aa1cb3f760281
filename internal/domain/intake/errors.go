package intake

import (
	"errors"
	"fmt"
)

// ErrRejected is matched by every *Rejection via errors.Is.
var ErrRejected = errors.New("submission rejected")

// Rejection reason codes. They are part of the public intake contract.
const (
	CodeMissingField      = "missing_field"
	CodeTripsOutOfRange   = "trips_out_of_range"
	CodeStopsOutOfRange   = "stops_out_of_range"
	CodeUnknownTrait      = "unknown_trait"
	CodeInvalidTraitValue = "invalid_trait_value"
)

// Rejection is a structured validation failure.
type Rejection struct {
	Code    string
	Field   string
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Is makes errors.Is(err, ErrRejected) hold for any rejection.
func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

func reject(code, field, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
