package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Cancelled orders may still move to paid/delivered when a late payment
// notification arrives; see payment.Reconciler for which ones are revived.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusDelivered: true, StatusCancelled: true},
	StatusPaid:      {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {StatusPaid: true, StatusDelivered: true},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Payable reports whether a verified payment notification may still mutate
// an order in this status.
func (s Status) Payable() bool {
	return s == StatusPending || s == StatusCancelled
}

// Cancel reasons recorded next to StatusCancelled.
const (
	CancelReasonExpired  = "expired"
	CancelReasonExplicit = "cancelled"
)
