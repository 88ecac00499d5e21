package domain

import "errors"

// ErrorCode is a closed enumeration of dispatch failure kinds. Callers
// switch on CodeOf(err) instead of matching error strings.
type ErrorCode string

const (
	CodeInvalidStatusTransition ErrorCode = "INVALID_STATUS_TRANSITION"
	CodeRideAlreadyEnded        ErrorCode = "RIDE_ALREADY_ENDED"
	CodeRideNotActive           ErrorCode = "RIDE_NOT_ACTIVE"
	CodeActiveRideExists        ErrorCode = "ACTIVE_RIDE_EXISTS"
	CodeRideNotFound            ErrorCode = "RIDE_NOT_FOUND"
	CodeDriverNotAvailable      ErrorCode = "DRIVER_NOT_AVAILABLE"
	CodeDriverNotFound          ErrorCode = "DRIVER_NOT_FOUND"
	CodeDriverBusy              ErrorCode = "DRIVER_BUSY"
	CodeNoDriversAvailable      ErrorCode = "NO_DRIVERS_AVAILABLE"
	CodeMatchingTimeout         ErrorCode = "MATCHING_TIMEOUT"
	CodeMatchingInProgress      ErrorCode = "MATCHING_IN_PROGRESS"
	CodeOfferExpired            ErrorCode = "OFFER_EXPIRED"
	CodeOfferNotFound           ErrorCode = "OFFER_NOT_FOUND"
	CodeInvalidLocation         ErrorCode = "INVALID_LOCATION"
	CodePricingFailed           ErrorCode = "PRICING_FAILED"
	CodeInvalidPromoCode        ErrorCode = "INVALID_PROMO_CODE"
	CodeInvalidRating           ErrorCode = "INVALID_RATING"
	CodeForbidden               ErrorCode = "FORBIDDEN"
	CodeInternal                ErrorCode = "INTERNAL_ERROR"
)

// Error carries an ErrorCode alongside a human-readable message.
type Error struct {
	Code ErrorCode
	msg  string
}

func (e *Error) Error() string { return e.msg }

// NewError builds an Error with an explicit code. Most callers should use
// the sentinels below so errors.Is keeps working.
func NewError(code ErrorCode, msg string) *Error { return &Error{Code: code, msg: msg} }

var (
	ErrInvalidStatusTransition = &Error{CodeInvalidStatusTransition, "invalid ride status transition"}
	ErrRideAlreadyEnded        = &Error{CodeRideAlreadyEnded, "ride has already ended"}
	ErrRideNotActive           = &Error{CodeRideNotActive, "ride is not active"}
	ErrRideNotFound            = &Error{CodeRideNotFound, "ride not found"}
	ErrDriverNotAvailable      = &Error{CodeDriverNotAvailable, "driver is not available"}
	ErrDriverNotFound          = &Error{CodeDriverNotFound, "driver not found"}
	ErrDriverBusy              = &Error{CodeDriverBusy, "driver is busy with another offer or ride"}
	ErrNoDriversAvailable      = &Error{CodeNoDriversAvailable, "no drivers available in the area"}
	ErrMatchingTimeout         = &Error{CodeMatchingTimeout, "matching timed out before a driver accepted"}
	ErrMatchingInProgress      = &Error{CodeMatchingInProgress, "matching already in progress for this ride"}
	ErrOfferExpired            = &Error{CodeOfferExpired, "driver offer has expired"}
	ErrOfferNotFound           = &Error{CodeOfferNotFound, "no outstanding offer for this driver"}
	ErrInvalidLocation         = &Error{CodeInvalidLocation, "invalid location coordinates"}
	ErrPricingFailed           = &Error{CodePricingFailed, "failed to calculate price"}
	ErrInvalidPromoCode        = &Error{CodeInvalidPromoCode, "invalid or expired promo code"}
	ErrForbidden               = &Error{CodeForbidden, "forbidden"}
)

// CodeOf extracts the ErrorCode from err, unwrapping as needed. Unknown
// errors map to CodeInternal.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
