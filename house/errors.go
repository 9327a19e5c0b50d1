package house

import (
	"errors"
	"fmt"
)

// Kind groups errors by what a caller can do about them.
type Kind int

const (
	KindInternal Kind = iota
	// KindAuthorization: the caller is not allowed to do this. Do not retry.
	KindAuthorization
	// KindState: the auction is in the wrong status for the operation.
	KindState
	// KindValidation: a parameter was rejected. Retry with different values.
	KindValidation
	// KindInsufficientBalance: the caller's funds do not cover the operation.
	KindInsufficientBalance
	// KindExternalCall: a custody or value transfer failed.
	KindExternalCall
)

var kindNames = map[Kind]string{
	KindInternal:            "internal",
	KindAuthorization:       "authorization",
	KindState:               "state",
	KindValidation:          "validation",
	KindInsufficientBalance: "insufficient_balance",
	KindExternalCall:        "external_call",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified engine failure. Two Errors match under errors.Is
// when their codes are equal, so a sentinel compares equal to any detailed
// error built from it.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// ErrorKind implements core.ClassifiedError.
func (e *Error) ErrorKind() string { return e.Kind.String() }

// ErrorCode implements core.ClassifiedError.
func (e *Error) ErrorCode() string { return e.Code }

// withf returns a copy of e with a more specific message.
func (e *Error) withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// wrap returns a copy of e carrying cause.
func (e *Error) wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrNotOwner         = newError(KindAuthorization, "not_owner", "caller does not own the asset")
	ErrNotHighestBidder = newError(KindAuthorization, "not_highest_bidder", "caller is not the highest bidder")
	ErrNotAuthorized    = newError(KindAuthorization, "not_authorized", "caller is not the house operator")

	ErrAuctionNotFound    = newError(KindState, "auction_not_found", "auction not found")
	ErrAuctionNotActive   = newError(KindState, "auction_not_active", "auction is not active")
	ErrAuctionNotComplete = newError(KindState, "auction_not_complete", "auction is not complete")
	ErrAlreadyCompleted   = newError(KindState, "already_completed", "auction already completed")
	ErrAlreadyClaimed     = newError(KindState, "already_claimed", "asset already claimed")
	ErrAuctionExists      = newError(KindState, "auction_exists", "asset already has an active auction")
	ErrPaused             = newError(KindState, "paused", "auction house is paused")

	ErrDurationTooShort  = newError(KindValidation, "duration_too_short", "duration is below the minimum")
	ErrInvalidAsset      = newError(KindValidation, "invalid_asset", "asset collection and id are required")
	ErrInvalidIncrement  = newError(KindValidation, "invalid_increment", "bid increment must be > 0")
	ErrZeroBid           = newError(KindValidation, "zero_bid", "bid amount must be > 0")
	ErrBidTooLow         = newError(KindValidation, "bid_too_low", "bid is below highest bid plus increment")
	ErrRateOutOfBounds   = newError(KindValidation, "rate_out_of_bounds", "commission rate must be within [0, 10000] basis points")
	ErrOverflow          = newError(KindValidation, "overflow", "amount overflows")
	ErrNothingToWithdraw = newError(KindValidation, "nothing_to_withdraw", "ledger balance is zero")

	ErrInsufficientBalance = newError(KindInsufficientBalance, "insufficient_balance", "insufficient balance")

	ErrCustodyTransferFailed = newError(KindExternalCall, "custody_transfer_failed", "asset custody transfer failed")
	ErrValueTransferFailed   = newError(KindExternalCall, "value_transfer_failed", "value transfer failed")

	ErrInvariant = newError(KindInternal, "invariant_violation", "ledger conservation invariant violated")
)

// KindOf classifies err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
