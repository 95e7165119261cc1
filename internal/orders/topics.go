package orders

const (
	TopicOrderCreated         = "shop.order.created"
	TopicOrderFinalized       = "shop.order.finalized"
	TopicOrderPaidUnfulfilled = "shop.order.paid_unfulfilled"
	TopicOrderCancelled       = "shop.order.cancelled"
)

// TopicFor routes an event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventOrderFinalized:
		return TopicOrderFinalized
	case EventOrderPaidUnfulfilled:
		return TopicOrderPaidUnfulfilled
	case EventOrderCancelled:
		return TopicOrderCancelled
	}
	return ""
}

// Partition key = order id, so all events of one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// Topics lists every topic the API publishes to.
var Topics = []string{TopicOrderCreated, TopicOrderFinalized, TopicOrderPaidUnfulfilled, TopicOrderCancelled}
