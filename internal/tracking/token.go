// Package tracking implements the open/click/unsubscribe callback surface:
// signed token generation, the HTTP endpoints, and the event queue between
// the endpoints and the delivery event processor.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrBadToken is returned when a token fails decoding or signature
// verification.
var ErrBadToken = errors.New("bad tracking token")

// TokenCodec signs and verifies tracking tokens. A token is
// base64url(payload) + "." + hmac-sha256(payload) truncated to 16 hex
// characters; the payload joins its fields with "|".
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec creates a codec with the given signing key.
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret)}
}

func (c *TokenCodec) sign(data string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Encode builds a signed token from the given payload fields.
func (c *TokenCodec) Encode(parts ...string) string {
	data := strings.Join(parts, "|")
	return base64.URLEncoding.EncodeToString([]byte(data)) + "." + c.sign(data)
}

// Decode verifies the token and returns its payload fields.
func (c *TokenCodec) Decode(token string) ([]string, error) {
	dot := strings.LastIndex(token, ".")
	if dot < 0 {
		return nil, ErrBadToken
	}
	decoded, err := base64.URLEncoding.DecodeString(token[:dot])
	if err != nil {
		return nil, ErrBadToken
	}
	data := string(decoded)
	if !hmac.Equal([]byte(c.sign(data)), []byte(token[dot+1:])) {
		return nil, ErrBadToken
	}
	return strings.Split(data, "|"), nil
}

// URLBuilder produces the public tracking URLs embedded into outgoing mail.
type URLBuilder struct {
	codec   *TokenCodec
	baseURL string
}

// NewURLBuilder creates a builder rooted at the tracking service base URL.
func NewURLBuilder(codec *TokenCodec, baseURL string) *URLBuilder {
	return &URLBuilder{codec: codec, baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the tracking base URL, used to recognize already-rewritten
// links.
func (b *URLBuilder) BaseURL() string { return b.baseURL }

// OpenURL returns the pixel URL for a send record.
func (b *URLBuilder) OpenURL(sendRecordID string) string {
	return fmt.Sprintf("%s/t/open/%s", b.baseURL, b.codec.Encode(sendRecordID))
}

// ClickURL returns the redirect URL for a link in a send record's body.
func (b *URLBuilder) ClickURL(sendRecordID, destURL string) string {
	return fmt.Sprintf("%s/t/click/%s", b.baseURL, b.codec.Encode(sendRecordID, destURL))
}

// UnsubscribeURL returns the one-click unsubscribe URL for a recipient. The
// send record id ties the action back to the campaign that triggered it.
func (b *URLBuilder) UnsubscribeURL(recipientID, sendRecordID string) string {
	return fmt.Sprintf("%s/t/unsubscribe/%s", b.baseURL, b.codec.Encode(recipientID, sendRecordID))
}
