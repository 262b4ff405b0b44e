package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrIdentityInvalid is returned for any malformed, unsigned, or expired
// identity token. The cause is deliberately not distinguished to callers,
// matching the spec's "rejects expired or wrong-secret tokens without
// distinguishing cause."
var ErrIdentityInvalid = errors.New("identity token invalid")

// IdentityClaims is the payload carried by a signed identity token.
type IdentityClaims struct {
	Subject     string `json:"sub"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

// IdentityVerifier mints and validates three-dot-segment bearer tokens
// ("header.payload.signature", each base64url) against a process-wide
// symmetric secret, standing in for the JWT library absent from the
// example corpus.
type IdentityVerifier struct {
	secret []byte
}

// NewIdentityVerifier returns a verifier keyed by secret. An empty secret
// is permitted at construction time; callers that require identity auth
// must reject an empty secret before starting up.
func NewIdentityVerifier(secret string) *IdentityVerifier {
	return &IdentityVerifier{secret: []byte(secret)}
}

const identityHeader = `{"alg":"HS256","typ":"IDT"}`

// Issue signs claims and returns the three-segment bearer token.
func (v *IdentityVerifier) Issue(claims IdentityClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(identityHeader))
	body := base64.RawURLEncoding.EncodeToString(payload)
	signingInput := header + "." + body
	sig := v.sign(signingInput)
	return signingInput + "." + sig, nil
}

// Verify parses and validates a bearer token, returning its claims.
func (v *IdentityVerifier) Verify(token string) (IdentityClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return IdentityClaims{}, ErrIdentityInvalid
	}
	signingInput := parts[0] + "." + parts[1]
	expected := v.sign(signingInput)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts[2])) != 1 {
		return IdentityClaims{}, ErrIdentityInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return IdentityClaims{}, ErrIdentityInvalid
	}
	var claims IdentityClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return IdentityClaims{}, ErrIdentityInvalid
	}
	if claims.ExpiresAt > 0 && time.Now().Unix() > claims.ExpiresAt {
		return IdentityClaims{}, ErrIdentityInvalid
	}
	return claims, nil
}

func (v *IdentityVerifier) sign(signingInput string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(signingInput))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
