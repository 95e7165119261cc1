package epay_test

import (
	"testing"

	"github.com/ariefcatur/go-card-shop/internal/epay"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCanonical_SortsAndSkips(t *testing.T) {
	got := epay.Canonical(map[string]string{
		"money":        "1.00",
		"sign":         "abc",
		"sign_type":    "MD5",
		"empty":        "",
		"out_trade_no": "ORD1",
		"a":            "x",
	})
	require.Equal(t, "a=x&money=1.00&out_trade_no=ORD1", got)
}

func TestSign_KnownVector(t *testing.T) {
	// md5("a=1&b=2KEY")
	require.Equal(t, "c5b3153ba616141a0bf58e29ad4cbb3f", epay.Sign(map[string]string{"b": "2", "a": "1", "sign_type": "MD5"}, "KEY"))
}

func TestVerify_RoundTrip(t *testing.T) {
	c := epay.Client{MerchantID: "1001", Key: "secret", PayURL: "https://pay.example/submit.php", BaseURL: "https://shop.example/"}

	r := c.PayParams("ORD42", "Gift card", decimal.RequireFromString("19.5"), c.ReturnURL("ORD42"))

	require.Equal(t, "https://pay.example/submit.php", r.URL)
	require.Equal(t, "19.50", r.Params["money"])
	require.Equal(t, "https://shop.example/api/notify", r.Params["notify_url"])
	require.Equal(t, "https://shop.example/callback/ORD42", r.Params["return_url"])
	require.Equal(t, "MD5", r.Params["sign_type"])
	require.True(t, epay.Verify(r.Params, "secret"))
	require.Equal(t, r.Params["sign"], epay.Sign(r.Params, "secret"))
}

func TestVerify_Rejects(t *testing.T) {
	params := map[string]string{"out_trade_no": "ORD1", "money": "5.00", "trade_status": "TRADE_SUCCESS"}
	params["sign"] = epay.Sign(params, "secret")

	require.False(t, epay.Verify(params, "other"))

	tampered := map[string]string{}
	for k, v := range params {
		tampered[k] = v
	}
	tampered["money"] = "0.01"
	require.False(t, epay.Verify(tampered, "secret"))

	delete(tampered, "sign")
	require.False(t, epay.Verify(tampered, "secret"))
}

func TestVerify_IgnoresEmptyFields(t *testing.T) {
	params := map[string]string{"out_trade_no": "ORD1", "money": "5.00"}
	params["sign"] = epay.Sign(params, "secret")
	params["param"] = ""

	require.True(t, epay.Verify(params, "secret"))
}

func TestVerify_EmptyKeyRejectsEverything(t *testing.T) {
	params := map[string]string{"out_trade_no": "ORD1", "money": "5.00", "trade_status": "TRADE_SUCCESS"}
	params["sign"] = epay.Sign(params, "")

	require.False(t, epay.Verify(params, ""))
}
