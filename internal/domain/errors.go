package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Parameter errors (kind: InvalidParameters)
var (
	// ErrQuestionTooShort is returned when the trimmed question is shorter than
	// the factory minimum.
	ErrQuestionTooShort = errors.New("market question is too short")

	// ErrQuestionTooLong is returned when the question exceeds the factory maximum.
	ErrQuestionTooLong = errors.New("market question is too long")

	// ErrInvalidDuration is returned when the betting window is outside the
	// allowed range of days.
	ErrInvalidDuration = errors.New("market duration is out of range")

	// ErrLiquidityTooLow is returned when the initial liquidity is below the
	// factory minimum or is not a whole number of base units.
	ErrLiquidityTooLow = errors.New("initial liquidity is below the minimum")

	// ErrInvalidAmount is returned for non-positive or fractional amounts.
	ErrInvalidAmount = errors.New("amount must be a positive whole number of base units")

	// ErrInvalidAddress is returned when an address string cannot be parsed.
	ErrInvalidAddress = errors.New("invalid address")
)

// Authorisation errors (kind: Unauthorized)
var (
	// ErrNotResolver is returned when anyone but the market's resolver tries
	// to resolve or invalidate it.
	ErrNotResolver = errors.New("caller is not the market resolver")

	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated caller lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrSignatureInvalid is returned when a wallet sign-in signature does not
	// recover to the claimed address.
	ErrSignatureInvalid = errors.New("signature does not match address")

	// ErrChallengeExpired is returned when no live sign-in challenge exists for
	// the address.
	ErrChallengeExpired = errors.New("sign-in challenge expired or unknown")
)

// State errors (kind: InvalidState)
var (
	// ErrMarketNotActive is returned when a bet or resolution targets a market
	// that already left StatusActive.
	ErrMarketNotActive = errors.New("market is not active")

	// ErrBettingClosed is returned when a bet arrives at or after EndTime.
	ErrBettingClosed = errors.New("betting window has closed")

	// ErrMarketNotEnded is returned when resolution is attempted before EndTime.
	ErrMarketNotEnded = errors.New("market has not ended yet")

	// ErrMarketNotSettled is returned when a claim is attempted before the
	// market is resolved or invalidated.
	ErrMarketNotSettled = errors.New("market is not resolved yet")
)

// Claim errors
var (
	// ErrAlreadyClaimed is returned on every claim after the first success.
	ErrAlreadyClaimed = errors.New("winnings already claimed")

	// ErrNothingToClaim is returned when the caller's entitlement is zero.
	ErrNothingToClaim = errors.New("nothing to claim")
)

// Ledger errors (propagated from the balance ledger)
var (
	// ErrInsufficientFunds is returned when the payer's balance is too low.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when the payer has not approved the
	// spender for the requested amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrTransferFailed is returned for any other ledger rejection.
	ErrTransferFailed = errors.New("transfer failed")
)

// Lookup errors
var (
	// ErrMarketNotFound is returned when no market matches the given id.
	ErrMarketNotFound = errors.New("market not found")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

var (
	invalidParameterErrors = []error{
		ErrQuestionTooShort,
		ErrQuestionTooLong,
		ErrInvalidDuration,
		ErrLiquidityTooLow,
		ErrInvalidAmount,
		ErrInvalidAddress,
	}
	unauthorizedErrors = []error{
		ErrNotResolver,
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenInvalid,
		ErrSignatureInvalid,
		ErrChallengeExpired,
	}
	invalidStateErrors = []error{
		ErrMarketNotActive,
		ErrBettingClosed,
		ErrMarketNotEnded,
		ErrMarketNotSettled,
	}
	transferErrors = []error{
		ErrInsufficientFunds,
		ErrInsufficientAllowance,
		ErrTransferFailed,
	}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInvalidParameters reports whether err was caused by caller input that
// failed validation.
func IsInvalidParameters(err error) bool { return isAny(err, invalidParameterErrors) }

// IsUnauthorized reports whether err is an authentication or authorisation failure.
func IsUnauthorized(err error) bool { return isAny(err, unauthorizedErrors) }

// IsInvalidState reports whether err was caused by the market's lifecycle
// state (not active, not ended, not settled, betting closed).
func IsInvalidState(err error) bool { return isAny(err, invalidStateErrors) }

// IsTransferError reports whether err came from the balance ledger.
func IsTransferError(err error) bool { return isAny(err, transferErrors) }

// IsNotFound reports whether err (or any error in its chain) is a lookup miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrMarketNotFound) }

// IsAlreadyClaimed reports whether err is a repeated claim.
func IsAlreadyClaimed(err error) bool { return errors.Is(err, ErrAlreadyClaimed) }

// IsNothingToClaim reports whether err is a claim with zero entitlement.
func IsNothingToClaim(err error) bool { return errors.Is(err, ErrNothingToClaim) }

// IsConflict returns true for errors that represent a state conflict the
// caller cannot fix by changing the request.
func IsConflict(err error) bool {
	return IsInvalidState(err) || errors.Is(err, ErrAlreadyClaimed)
}
