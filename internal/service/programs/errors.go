package programs

import "errors"

// Sentinel errors for the programs service layer. ErrNoAvailability and
// ErrNoCommonSlot are NotFound-class results: they describe the state of
// the data, not malformed input (input validation is the HTTP layer's job).
var (
	ErrNotFound       = errors.New("program resource not found")
	ErrNoAvailability = errors.New("no_availability")
	ErrNoCommonSlot   = errors.New("no_common_slot")
)
