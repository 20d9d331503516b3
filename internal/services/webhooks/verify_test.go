package webhooks

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hmacSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHMACVerifier_ValidSignature(t *testing.T) {
	v := NewHMACVerifier("whsec_test")
	body := []byte(`{"id":"evt_1"}`)

	assert.NoError(t, v.Verify(body, hmacSign("whsec_test", body)))
}

func TestHMACVerifier_AcceptsSha256Prefix(t *testing.T) {
	v := NewHMACVerifier("whsec_test")
	body := []byte(`{"id":"evt_1"}`)

	assert.NoError(t, v.Verify(body, "sha256="+hmacSign("whsec_test", body)))
}

func TestHMACVerifier_RejectsWrongSecret(t *testing.T) {
	v := NewHMACVerifier("whsec_test")
	body := []byte(`{"id":"evt_1"}`)

	err := v.Verify(body, hmacSign("whsec_other", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestHMACVerifier_RejectsTamperedBody(t *testing.T) {
	v := NewHMACVerifier("whsec_test")
	sig := hmacSign("whsec_test", []byte(`{"amount":"5.00"}`))

	err := v.Verify([]byte(`{"amount":"500.00"}`), sig)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestHMACVerifier_RejectsEmptySignature(t *testing.T) {
	v := NewHMACVerifier("whsec_test")

	err := v.Verify([]byte(`{}`), "")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestHMACVerifier_NoSecretConfigured(t *testing.T) {
	v := NewHMACVerifier("")

	err := v.Verify([]byte(`{}`), "whatever")
	assert.ErrorIs(t, err, ErrNoSecret)
}

// bankingTestKey generates an ES256 keypair and returns the private key plus
// the PEM-encoded public key the verifier is configured with.
func bankingTestKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, string(pemBytes)
}

func bankingToken(t *testing.T, priv *ecdsa.PrivateKey, body []byte, issuedAt time.Time) string {
	t.Helper()

	sum := sha256.Sum256(body)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iat":                 issuedAt.Unix(),
		"request_body_sha256": hex.EncodeToString(sum[:]),
	})
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	priv, pub := bankingTestKey(t)
	v := NewJWTVerifier(pub)
	body := []byte(`{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE"}`)

	assert.NoError(t, v.Verify(body, bankingToken(t, priv, body, time.Now())))
}

func TestJWTVerifier_RejectsStaleToken(t *testing.T) {
	priv, pub := bankingTestKey(t)
	v := NewJWTVerifier(pub)
	body := []byte(`{"webhook_type":"TRANSACTIONS"}`)

	// Issued 6 minutes ago, past the replay window.
	err := v.Verify(body, bankingToken(t, priv, body, time.Now().Add(-6*time.Minute)))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestJWTVerifier_RejectsBodyMismatch(t *testing.T) {
	priv, pub := bankingTestKey(t)
	v := NewJWTVerifier(pub)

	sig := bankingToken(t, priv, []byte(`{"item_id":"item-1"}`), time.Now())
	err := v.Verify([]byte(`{"item_id":"item-2"}`), sig)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestJWTVerifier_RejectsWrongKey(t *testing.T) {
	priv, _ := bankingTestKey(t)
	_, otherPub := bankingTestKey(t)
	v := NewJWTVerifier(otherPub)
	body := []byte(`{}`)

	err := v.Verify(body, bankingToken(t, priv, body, time.Now()))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestJWTVerifier_RejectsHMACToken(t *testing.T) {
	_, pub := bankingTestKey(t)
	v := NewJWTVerifier(pub)
	body := []byte(`{}`)

	sum := sha256.Sum256(body)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat":                 time.Now().Unix(),
		"request_body_sha256": hex.EncodeToString(sum[:]),
	})
	signed, err := token.SignedString([]byte("not-a-key"))
	require.NoError(t, err)

	assert.ErrorIs(t, v.Verify(body, signed), ErrSignatureInvalid)
}

func TestJWTVerifier_NoKeyConfigured(t *testing.T) {
	v := NewJWTVerifier("")

	assert.ErrorIs(t, v.Verify([]byte(`{}`), "anything"), ErrNoSecret)
}
