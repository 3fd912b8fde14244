package push

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// SignJWT issues the HS256 token sent with JWT-authenticated deliveries. The subject
// is the task id so a receiver can bind the token to the payload.
func SignJWT(secret, issuer, taskID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt scheme requires credentials")
	}
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Subject(taskID).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		JwtID(uuid.NewString()).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build jwt: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	if err != nil {
		return "", fmt.Errorf("failed to sign jwt: %w", err)
	}
	return string(signed), nil
}

// VerifyJWT validates a delivery token on the receiving side: signature, expiry and
// that it was issued for taskID.
func VerifyJWT(token, secret, taskID string) error {
	_, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, []byte(secret)),
		jwt.WithValidate(true),
		jwt.WithSubject(taskID),
	)
	if err != nil {
		return fmt.Errorf("invalid push token: %w", err)
	}
	return nil
}
