package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBody(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Now()
	v := NewVerifier("test-secret")
	v.now = func() time.Time { return now }

	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte("token=abc&command=%2Fcreateticket&text=login+broken")

	err := v.Verify(ts, body, signBody("test-secret", ts, body))
	assert.NoError(t, err)
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Now()
	v := NewVerifier("test-secret")
	v.now = func() time.Time { return now }

	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte("payload")

	err := v.Verify(ts, body, signBody("other-secret", ts, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature mismatch")
}

func TestVerify_TamperedBody(t *testing.T) {
	now := time.Now()
	v := NewVerifier("test-secret")
	v.now = func() time.Time { return now }

	ts := strconv.FormatInt(now.Unix(), 10)
	sig := signBody("test-secret", ts, []byte("original"))

	err := v.Verify(ts, []byte("tampered"), sig)
	assert.Error(t, err)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	now := time.Now()
	v := NewVerifier("test-secret")
	v.now = func() time.Time { return now }

	old := now.Add(-10 * time.Minute)
	ts := strconv.FormatInt(old.Unix(), 10)
	body := []byte("payload")

	err := v.Verify(ts, body, signBody("test-secret", ts, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp out of range")
}

func TestVerify_GarbageTimestamp(t *testing.T) {
	v := NewVerifier("test-secret")

	err := v.Verify("not-a-number", []byte("payload"), "v0=abc")
	assert.Error(t, err)
}
