package orders

import "time"

const (
	// ReservationTTL bounds how long a reserved card stays out of the pool.
	ReservationTTL = 5 * time.Minute
	// SecondChanceStaleness is the shorter threshold used when topping up a
	// lapsed reservation at finalization time.
	SecondChanceStaleness = time.Minute
	// PendingOrderTimeout is the age after which a pending order is swept.
	PendingOrderTimeout = 5 * time.Minute
)

const (
	PointsRedemptionTradeNo = "POINTS_REDEMPTION"
	PaymentLinkProductID    = "__PAYMENT__"
	MaxNoteLength           = 500
)
