package orders_test

import (
	"testing"

	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/stretchr/testify/assert"
)

func TestOrderBuyerKey(t *testing.T) {
	assert.Equal(t, "u1", (&orders.Order{UserID: orders.StrPtr("u1"), Username: orders.StrPtr("alice")}).BuyerKey())
	assert.Equal(t, "alice", (&orders.Order{Username: orders.StrPtr("alice"), Email: orders.StrPtr("a@x")}).BuyerKey())
	assert.Equal(t, "a@x", (&orders.Order{Email: orders.StrPtr("a@x")}).BuyerKey())
	assert.Empty(t, (&orders.Order{}).BuyerKey())
}
