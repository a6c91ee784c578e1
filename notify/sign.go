// Package notify relays visitor alerts to a DingTalk custom robot webhook.
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
)

// Sign computes the robot signature for a millisecond timestamp:
// HMAC-SHA256 keyed by secret over timestamp + "\n" + secret, base64
// encoded, then percent-encoded for embedding in a query string.
func Sign(timestamp, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp + "\n" + secret))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(h.Sum(nil)))
}
