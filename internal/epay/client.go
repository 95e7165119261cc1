package epay

import (
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/shopspring/decimal"
	"strings"
)

// Client builds signed redirects to the hosted pay page.
type Client struct {
	MerchantID string
	Key        string
	PayURL     string
	BaseURL    string
}

// Redirect is what the buyer's browser form-POSTs to URL.
type Redirect struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
}

func (c Client) NotifyURL() string { return c.base() + "/api/notify" }

// ReturnURL is the checkout landing page for shop orders.
func (c Client) ReturnURL(orderID string) string { return c.base() + "/callback/" + orderID }

// OrderURL is the buyer's order page.
func (c Client) OrderURL(orderID string) string { return c.base() + "/order/" + orderID }

// LinkURL is the shareable page of an ad-hoc payment link.
func (c Client) LinkURL(orderID string) string { return c.base() + "/pay/" + orderID }

func (c Client) base() string { return strings.TrimRight(c.BaseURL, "/") }

// PayParams signs a redirect for orderID charging amount.
func (c Client) PayParams(orderID, name string, amount decimal.Decimal, returnURL string) Redirect {
	p := map[string]string{
		"pid":          c.MerchantID,
		"type":         "epay",
		"out_trade_no": orderID,
		"notify_url":   c.NotifyURL(),
		"return_url":   returnURL,
		"name":         name,
		"money":        orders.FormatMoney(amount),
		FieldSignType:  SignTypeMD5,
	}
	p[FieldSign] = Sign(p, c.Key)
	return Redirect{URL: c.PayURL, Params: p}
}
