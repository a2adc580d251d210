package server

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/atlasuniv/coursefeed/internal/feed"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer     = "coursefeed"
	actorAudience   = "coursefeed-api"
	cursorAudience  = "coursefeed-cursor"
	defaultActorTTL = 12 * time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errMalformedCursor      = errors.New("malformed pagination cursor")
)

// ActorTokens validates the bearer tokens the surrounding platform mints for
// its users. The engine never authenticates end users itself; it only unwraps
// the platform token into an actor identifier.
type ActorTokens struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewActorTokens constructs an actor token codec.
func NewActorTokens(secret []byte, clock func() time.Time) *ActorTokens {
	if clock == nil {
		clock = time.Now
	}
	return &ActorTokens{secret: secret, ttl: defaultActorTTL, clock: clock}
}

// Issue produces a signed actor token. Exposed for the platform integration
// and the test suite.
func (a *ActorTokens) Issue(actor feed.UserID) (string, error) {
	if len(a.secret) == 0 {
		return "", errMissingSigningSecret
	}
	now := a.clock().UTC()
	registered := jwt.RegisteredClaims{
		Subject:   actor.String(),
		Issuer:    tokenIssuer,
		Audience:  []string{actorAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	return token.SignedString(a.secret)
}

// Validate ensures the bearer token is well formed and returns the actor.
func (a *ActorTokens) Validate(tokenString string) (feed.UserID, error) {
	if len(a.secret) == 0 {
		return "", errMissingSigningSecret
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return a.secret, nil
		},
		jwt.WithAudience(actorAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return feed.NewUserID(claims.Subject)
}

// CursorCodec signs PubCode cursors into opaque tokens so internal codes are
// never surfaced raw. Cursors carry no expiry: a bookmarked page stays
// fetchable for as long as its publications exist.
type CursorCodec struct {
	secret []byte
}

// NewCursorCodec constructs a cursor codec.
func NewCursorCodec(secret []byte) *CursorCodec {
	return &CursorCodec{secret: secret}
}

// Encode wraps the PubCode in a signed token.
func (c *CursorCodec) Encode(pubCode int64) (string, error) {
	if len(c.secret) == 0 {
		return "", errMissingSigningSecret
	}
	registered := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(pubCode, 10),
		Issuer:   tokenIssuer,
		Audience: []string{cursorAudience},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	return token.SignedString(c.secret)
}

// Decode verifies the token and returns the PubCode. The empty string decodes
// to zero, the cursor before the first publication.
func (c *CursorCodec) Decode(tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, nil
	}
	if len(c.secret) == 0 {
		return 0, errMissingSigningSecret
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return c.secret, nil
		},
		jwt.WithAudience(cursorAudience),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	pubCode, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	return pubCode, nil
}
