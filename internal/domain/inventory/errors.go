package inventory

import "errors"

var (
	ErrThreadTypeNotFound  = errors.New("thread type not found")
	ErrConeNotFound        = errors.New("cone not found")
	ErrConeNotAvailable    = errors.New("cone state conflict: cone is not available")
	ErrConeNotInProduction = errors.New("cone state conflict: cone is not in production")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidWeight       = errors.New("invalid weight")
	ErrInvalidInput        = errors.New("invalid input")
)

// IsStateConflict reports errors caused by a cone being in the wrong state,
// typically because another device changed it first.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrConeNotAvailable) || errors.Is(err, ErrConeNotInProduction)
}
