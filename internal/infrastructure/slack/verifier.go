package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// maxSignatureAge rejects replayed requests with old timestamps.
const maxSignatureAge = 5 * time.Minute

// Verifier checks Slack request signatures (the v0 signing-secret scheme).
type Verifier struct {
	signingSecret string
	now           func() time.Time
}

// NewVerifier creates a verifier for the workspace's signing secret.
func NewVerifier(signingSecret string) *Verifier {
	return &Verifier{
		signingSecret: signingSecret,
		now:           time.Now,
	}
}

// Verify validates the X-Slack-Signature header against the request
// timestamp and raw body.
func (v *Verifier) Verify(timestamp string, body []byte, signature string) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid request timestamp")
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > maxSignatureAge || age < -maxSignatureAge {
		return fmt.Errorf("request timestamp out of range")
	}

	mac := hmac.New(sha256.New, []byte(v.signingSecret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
