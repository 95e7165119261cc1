// Package epay speaks the hosted pay page protocol: signed form fields out,
// signed callbacks in.
package epay

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	FieldSign     = "sign"
	FieldSignType = "sign_type"
	SignTypeMD5   = "MD5"
)

// Canonical returns the string that gets signed: every non-empty field
// except sign and sign_type, sorted by name, joined as k=v with &.
func Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == FieldSign || k == FieldSignType || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

func Sign(params map[string]string, key string) string {
	sum := md5.Sum([]byte(Canonical(params) + key))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature of params and compares it with the
// received sign field. An empty key verifies nothing.
func Verify(params map[string]string, key string) bool {
	got := params[FieldSign]
	if got == "" || key == "" {
		return false
	}
	want := Sign(params, key)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) == 1
}
