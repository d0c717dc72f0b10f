package paygate

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

// SignatureHeader is the request header carrying the webhook signature
const SignatureHeader = "Paygate-Signature"

// DefaultTolerance is the maximum accepted age of a signed webhook
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("paygate: missing signature header")
	ErrInvalidHeader    = errors.New("paygate: malformed signature header")
	ErrNoValidSignature = errors.New("paygate: no signature matches the payload")
	ErrTooOld           = errors.New("paygate: signature timestamp outside tolerance")
)

// ComputeSignature returns the hex HMAC-SHA256 of "<t>.<payload>"
func ComputeSignature(t time.Time, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(t.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignHeader builds a "t=<unix>,v1=<hex>" header value
func SignHeader(t time.Time, payload []byte, secret string) string {
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), ComputeSignature(t, payload, secret))
}

// VerifySignature checks header against payload. Several v1 values may be
// present while the secret is being rotated; any match is accepted.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	var ts int64 = -1
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return ErrInvalidHeader
		}
		switch kv[0] {
		case "t":
			v, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrInvalidHeader
			}
			ts = v
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return ErrInvalidHeader
	}

	signedAt := time.Unix(ts, 0)
	if tolerance > 0 {
		age := now.Sub(signedAt)
		if age > tolerance || age < -tolerance {
			return ErrTooOld
		}
	}

	expected, _ := hex.DecodeString(ComputeSignature(signedAt, payload, secret))
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrNoValidSignature
}
