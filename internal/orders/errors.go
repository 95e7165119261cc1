package orders

import "errors"

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindStateConflict
	KindRaceLost
	KindSignature
	KindAmountMismatch
	KindForbidden
)

// Error is a domain failure with a machine-readable code the client can
// localize.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string { return e.Code }

func newErr(k Kind, code string) *Error { return &Error{Kind: k, Code: code} }

// NewError is used by sibling packages to declare their own sentinels.
func NewError(k Kind, code string) *Error { return newErr(k, code) }

var (
	ErrBanned          = newErr(KindForbidden, "auth.banned")
	ErrProductNotFound = newErr(KindNotFound, "buy.productNotFound")
	ErrOrderNotFound   = newErr(KindNotFound, "order.notFound")

	ErrOutOfStock         = newErr(KindValidation, "buy.outOfStock")
	ErrExceedsStock       = newErr(KindValidation, "buy.exceedsStock")
	ErrLimitExceeded      = newErr(KindValidation, "buy.limitExceeded")
	ErrStockRaceLost      = newErr(KindRaceLost, "buy.stockLocked")
	ErrInsufficientPoints = newErr(KindRaceLost, "buy.pointsMismatch")

	ErrNotPayable         = newErr(KindStateConflict, "order.notPayable")
	ErrNotPending         = newErr(KindStateConflict, "order.notPending")
	ErrInvalidTransition  = newErr(KindStateConflict, "order.invalidTransition")
	ErrDuplicateOrder     = newErr(KindStateConflict, "order.duplicate")
	ErrNotOwned           = newErr(KindForbidden, "order.notOwned")
	ErrInvalidAmount      = newErr(KindValidation, "order.invalidAmount")
	ErrPaymentNameMissing = newErr(KindValidation, "paymentLink.nameRequired")

	ErrSignatureInvalid = newErr(KindSignature, "notify.badSignature")
	ErrAmountMismatch   = newErr(KindAmountMismatch, "notify.amountMismatch")
)

// KindOf returns the Kind of a domain error, or 0 for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the machine-readable code of a domain error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "common.error"
}
