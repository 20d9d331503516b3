package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrSignatureInvalid rejects a delivery at the boundary; the payload
	// never reaches business logic.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// ErrNoSecret means no secret is configured for the provider. The
	// gateway decides whether pass-through is allowed for the environment.
	ErrNoSecret = errors.New("no webhook secret configured")
)

// Verifier checks a provider signature over the raw request body.
type Verifier interface {
	Verify(rawBody []byte, signature string) error
}

// HMACVerifier implements the shared HMAC-SHA256 scheme used by the payment
// and disbursement providers: hex digest of the raw body, optionally prefixed
// "sha256=".
type HMACVerifier struct {
	secret string
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

func (v *HMACVerifier) Verify(rawBody []byte, signature string) error {
	if v.secret == "" {
		return ErrNoSecret
	}
	if signature == "" {
		return ErrSignatureInvalid
	}

	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time compare; a byte-by-byte mismatch must not leak position.
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureInvalid
	}
	return nil
}

const maxTokenAge = 5 * time.Minute

// JWTVerifier implements the banking provider's scheme: the signature header
// is an ES256 JWT whose request_body_sha256 claim must match the raw body and
// whose issued-at must be within the last five minutes.
type JWTVerifier struct {
	publicKeyPEM string
}

func NewJWTVerifier(publicKeyPEM string) *JWTVerifier {
	return &JWTVerifier{publicKeyPEM: publicKeyPEM}
}

func (v *JWTVerifier) Verify(rawBody []byte, signature string) error {
	if v.publicKeyPEM == "" {
		return ErrNoSecret
	}
	if signature == "" {
		return ErrSignatureInvalid
	}

	key, err := jwt.ParseECPublicKeyFromPEM([]byte(v.publicKeyPEM))
	if err != nil {
		return fmt.Errorf("parsing banking verification key: %w", err)
	}

	token, err := jwt.Parse(signature, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodES256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return ErrSignatureInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrSignatureInvalid
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return ErrSignatureInvalid
	}
	if time.Since(issuedAt.Time) > maxTokenAge {
		return ErrSignatureInvalid
	}

	bodyHash, _ := claims["request_body_sha256"].(string)
	sum := sha256.Sum256(rawBody)
	expected := hex.EncodeToString(sum[:])
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(bodyHash))) {
		return ErrSignatureInvalid
	}

	return nil
}
