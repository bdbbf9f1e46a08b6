package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Policy is the set of claim checks an access token must pass before the
// checkout API trusts its subject.
type Policy struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
	// MaxAge rejects tokens issued longer ago than this. Zero disables the check.
	MaxAge time.Duration
}

// Validate checks the algorithm the token was signed with and its registered
// claims. Tokens must carry sub and exp.
func (p Policy) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	if algorithm == "" {
		return errors.New("auth: token missing algorithm")
	}
	if p.Algorithm != "" && algorithm != p.Algorithm {
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}

	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if p.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(p.ClockSkew))
	}
	if p.Issuer != "" {
		options = append(options, jwt.WithIssuer(p.Issuer))
	}
	if p.Audience != "" {
		options = append(options, jwt.WithAudience(p.Audience))
	}
	if p.MaxAge > 0 {
		options = append(options, jwt.WithMaxDelta(p.MaxAge+p.ClockSkew, jwt.ExpirationKey, jwt.IssuedAtKey))
	}
	return jwt.Validate(tok, options...)
}
