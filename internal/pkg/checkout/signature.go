package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature:
//
//	Pay-Signature: t=<unix seconds>,v1=<hex hmac-sha256>
//
// The signed payload is "<t>.<raw body>". The timestamp bounds replay of a
// captured request; the ledger's purchase idempotency handles legitimate
// provider retries.
const SignatureHeader = "Pay-Signature"

// DefaultTolerance is the maximum accepted age of a signed webhook.
const DefaultTolerance = 5 * time.Minute

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrSignatureExpired = errors.New("webhook signature outside tolerance")
)

// Sign computes a signature header value for the given payload and timestamp.
func Sign(payload []byte, secret string, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), computeHMAC(payload, secret, ts.Unix()))
}

// VerifySignature validates a signature header against the raw request body.
// Fails closed: any parse error, stale timestamp, or digest mismatch is an
// error and the caller must not mutate anything.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" || header == "" {
		return ErrSignatureInvalid
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ts, signature, err := parseHeader(header)
	if err != nil {
		return err
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrSignatureExpired
	}

	expected := computeHMAC(payload, secret, ts)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureInvalid
	}

	return nil
}

func parseHeader(header string) (ts int64, signature string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, "", ErrSignatureInvalid
		}
		switch key {
		case "t":
			ts, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", ErrSignatureInvalid
			}
		case "v1":
			signature = value
		}
	}

	if ts == 0 || signature == "" {
		return 0, "", ErrSignatureInvalid
	}
	return ts, signature, nil
}

func computeHMAC(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
