package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretBytes = 32

var (
	// ErrMalformed is returned for tokens that cannot be decoded or lack
	// required claims.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid is returned when no configured key verifies the token.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired is returned for a correctly signed token past its exp claim.
	ErrExpired = errors.New("token expired")

	errUnknownKeyID = errors.New("unknown kid")
)

// Config configures HS256 signing with an optional previous secret kept for
// verification during rotation.
type Config struct {
	Secret         []byte        `yaml:"-"`
	KeyID          string        `yaml:"key_id"`
	PreviousSecret []byte        `yaml:"-"`
	PreviousKeyID  string        `yaml:"previous_key_id"`
	TTL            time.Duration `yaml:"ttl"`
	Issuer         string        `yaml:"issuer"`
	Leeway         time.Duration `yaml:"leeway"`

	// Now overrides the wall clock. Nil means time.Now.
	Now func() time.Time `yaml:"-"`
}

// Claims is the payload of a session token. Subject carries the user ID.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// Issuer mints and validates session tokens. It holds no mutable state.
type Issuer struct {
	config Config
	parser *jwt.Parser
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretBytes)
	}
	if len(cfg.PreviousSecret) > 0 && len(cfg.PreviousSecret) < minSecretBytes {
		return nil, fmt.Errorf("jwt previous secret must be at least %d bytes", minSecretBytes)
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("jwt ttl must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt leeway must be within [0, 2m]")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	cfg.PreviousKeyID = strings.TrimSpace(cfg.PreviousKeyID)
	if cfg.PreviousKeyID != "" && cfg.PreviousKeyID == cfg.KeyID {
		return nil, errors.New("jwt previous key id must differ from key id")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	return &Issuer{config: cfg, parser: jwt.NewParser(options...)}, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.config.TTL
}

// Issue signs a token binding userID to sessionID and returns it with its
// expiry. The returned expiry is truncated to the second, matching the exp
// claim exactly.
func (i *Issuer) Issue(userID, sessionID string) (string, time.Time, error) {
	if userID == "" || sessionID == "" {
		return "", time.Time{}, errors.New("jwt issue requires user and session id")
	}

	now := i.config.Now().Truncate(time.Second)
	expiresAt := now.Add(i.config.TTL)

	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if i.config.KeyID != "" {
		token.Header["kid"] = i.config.KeyID
	}

	signed, err := token.SignedString(i.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate verifies the signature and claims of raw. Expiry is only reported
// once the signature has been verified, so a forged expired token yields
// ErrSignatureInvalid rather than ErrExpired.
func (i *Issuer) Validate(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	claims, err := i.parse(raw, i.keyByID)
	if err != nil && errors.Is(err, ErrSignatureInvalid) && len(i.config.PreviousSecret) > 0 && !hasKeyID(raw, i.parser) {
		claims, err = i.parse(raw, func(*jwt.Token) (interface{}, error) {
			return i.config.PreviousSecret, nil
		})
	}
	if err != nil {
		return nil, err
	}

	if claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func (i *Issuer) parse(raw string, keyfunc jwt.Keyfunc) (*Claims, error) {
	token, err := i.parser.ParseWithClaims(raw, &Claims{}, keyfunc)
	if err != nil {
		return nil, classify(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

func (i *Issuer) keyByID(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	switch {
	case kid == "" || kid == i.config.KeyID:
		return i.config.Secret, nil
	case len(i.config.PreviousSecret) > 0 && kid == i.config.PreviousKeyID:
		return i.config.PreviousSecret, nil
	default:
		return nil, errUnknownKeyID
	}
}

func hasKeyID(raw string, parser *jwt.Parser) bool {
	token, _, err := parser.ParseUnverified(raw, &Claims{})
	if err != nil {
		return false
	}
	kid, _ := token.Header["kid"].(string)
	return kid != ""
}

// classify maps library errors onto the three public classes. The library
// checks the signature before claims, so ErrTokenExpired implies a valid
// signature.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
