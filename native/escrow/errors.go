package escrow

import "errors"

// ErrorCode is the machine-readable identifier attached to every escrow
// failure. Codes are stable and safe to match on across process boundaries.
type ErrorCode string

const (
	CodeUnknown                 ErrorCode = "ERR_UNKNOWN"
	CodeNotInitialized          ErrorCode = "ERR_NOT_INITIALIZED"
	CodeAlreadyInitialized      ErrorCode = "ERR_ALREADY_INITIALIZED"
	CodeInsufficientFundsLimit  ErrorCode = "ERR_INSUFFICIENT_FUNDS_LIMIT"
	CodeInvalidConfig           ErrorCode = "ERR_INVALID_CONFIG"
	CodeOwnerShouldNotDeposit   ErrorCode = "ERR_OWNER_SHOULD_NOT_DEPOSIT"
	CodeDepositShouldNotBeZero  ErrorCode = "ERR_DEPOSIT_SHOULD_NOT_BE_0"
	CodeDepositNotAllowed       ErrorCode = "ERR_DEPOSIT_NOT_ALLOWED"
	CodeDepositExceedsHeadroom  ErrorCode = "ERR_DEPOSIT_EXCEEDS_UNPAID_FUNDING"
	CodeWithdrawalNotAllowed    ErrorCode = "ERR_WITHDRAWAL_NOT_ALLOWED"
	CodeDelegateNotAllowed      ErrorCode = "ERR_DELEGATE_NOT_ALLOWED"
	CodeDelegationPending       ErrorCode = "ERR_DELEGATION_PENDING"
	CodeInvalidName             ErrorCode = "ERR_INVALID_DAO_NAME"
	CodeTotalFundsOverflow      ErrorCode = "ERR_TOTAL_FUNDS_OVERFLOW"
	CodeCallbackUnauthorized    ErrorCode = "ERR_CALLBACK_UNAUTHORIZED"
	CodeCallbackMethod          ErrorCode = "ERR_CALLBACK_METHOD"
	CodeCreateDAOUnsuccessful   ErrorCode = "ERR_CREATE_DAO_UNSUCCESSFUL"
	CodeCreateFTUnsuccessful    ErrorCode = "ERR_CREATE_FT_UNSUCCESSFUL"
	CodeMalformedResult         ErrorCode = "ERR_MALFORMED_PROMISE_RESULT"
	CodeAlreadyDelegated        ErrorCode = "ERR_ALREADY_DELEGATED"
	CodeArithmeticOverflow      ErrorCode = "ERR_ARITHMETIC_OVERFLOW"
	CodeCapabilityNotConfigured ErrorCode = "ERR_CAPABILITY_NOT_CONFIGURED"
	CodeUnknownMethod           ErrorCode = "ERR_UNKNOWN_METHOD"
	CodeInvalidArguments        ErrorCode = "ERR_INVALID_ARGUMENTS"
)

// Error is a coded escrow failure. Callers match with errors.Is against the
// package sentinels or extract the code with CodeOf.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return "escrow: " + e.Message }

func newError(code ErrorCode, msg string) *Error { return &Error{Code: code, Message: msg} }

var (
	ErrNotInitialized          = newError(CodeNotInitialized, "escrow not initialized")
	ErrAlreadyInitialized      = newError(CodeAlreadyInitialized, "escrow already initialized")
	ErrInsufficientFundsLimit  = newError(CodeInsufficientFundsLimit, "funding limit below token reserve")
	ErrInvalidConfig           = newError(CodeInvalidConfig, "invalid escrow configuration")
	ErrOwnerShouldNotDeposit   = newError(CodeOwnerShouldNotDeposit, "owner must not fund its own escrow")
	ErrDepositShouldNotBeZero  = newError(CodeDepositShouldNotBeZero, "deposit must be positive")
	ErrDepositNotAllowed       = newError(CodeDepositNotAllowed, "deposit not allowed")
	ErrDepositExceedsHeadroom  = newError(CodeDepositExceedsHeadroom, "deposit exceeds unpaid funding amount")
	ErrWithdrawalNotAllowed    = newError(CodeWithdrawalNotAllowed, "withdrawal not allowed")
	ErrDelegateNotAllowed      = newError(CodeDelegateNotAllowed, "delegation not allowed")
	ErrDelegationPending       = newError(CodeDelegationPending, "delegation already in flight")
	ErrInvalidName             = newError(CodeInvalidName, "dao name required")
	ErrTotalFundsOverflow      = newError(CodeTotalFundsOverflow, "total funds below token reserve")
	ErrCallbackUnauthorized    = newError(CodeCallbackUnauthorized, "callback restricted to escrow account")
	ErrCallbackMethod          = newError(CodeCallbackMethod, "callback expects exactly two promise results")
	ErrCreateDAOUnsuccessful   = newError(CodeCreateDAOUnsuccessful, "create dao call failed")
	ErrCreateFTUnsuccessful    = newError(CodeCreateFTUnsuccessful, "create token call failed")
	ErrMalformedResult         = newError(CodeMalformedResult, "promise result is not a boolean")
	ErrAlreadyDelegated        = newError(CodeAlreadyDelegated, "funds already delegated")
	ErrArithmeticOverflow      = newError(CodeArithmeticOverflow, "arithmetic overflow")
	ErrCapabilityNotConfigured = newError(CodeCapabilityNotConfigured, "capability not configured")
	ErrUnknownMethod           = newError(CodeUnknownMethod, "unknown method")
	ErrInvalidArguments        = newError(CodeInvalidArguments, "invalid arguments")
)

// CodeOf returns the machine-readable code carried by err, or CodeUnknown for
// errors that did not originate from this package.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(CodeOf(err))
}
