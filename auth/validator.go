package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway is the clock skew tolerated on exp and nbf.
const DefaultLeeway = 60 * time.Second

// KeySource looks up verification keys. KeyResolver implements it.
type KeySource interface {
	Key(ctx context.Context, issuer, kid string) (SigningKey, error)
}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	// Issuer is the exact iss value every credential must carry. Keys are
	// always resolved for this issuer, never for the unverified iss.
	Issuer string

	// Audiences lists acceptable aud values; one match is enough.
	Audiences []string

	// Leeway is the tolerated clock skew. Zero means none.
	Leeway time.Duration

	// Keys resolves signing keys.
	Keys KeySource

	// Now is the time source. Default: time.Now
	Now func() time.Time
}

// Validator turns a bearer credential into verified Claims.
type Validator struct {
	config ValidatorConfig
	parser *jwt.Parser
}

// Algorithms accepted in a credential header, by the key type they need.
var supportedAlgorithms = map[string]string{
	"RS256": "RSA", "RS384": "RSA", "RS512": "RSA",
	"PS256": "RSA", "PS384": "RSA", "PS512": "RSA",
	"ES256": "EC", "ES384": "EC", "ES512": "EC",
	"EdDSA": "OKP",
	"HS256": "oct", "HS384": "oct", "HS512": "oct",
}

// SupportedAlgorithms returns the accepted header algorithms, sorted.
func SupportedAlgorithms() []string {
	out := make([]string, 0, len(supportedAlgorithms))
	for alg := range supportedAlgorithms {
		out = append(out, alg)
	}
	slices.Sort(out)
	return out
}

// NewValidator checks config and returns a Validator.
func NewValidator(config ValidatorConfig) (*Validator, error) {
	if err := ValidateIssuer(config.Issuer); err != nil {
		return nil, err
	}
	if len(config.Audiences) == 0 || slices.Contains(config.Audiences, "") {
		return nil, fmt.Errorf("%w: at least one non-empty audience is required", ErrConfiguration)
	}
	if config.Leeway < 0 {
		return nil, fmt.Errorf("%w: leeway must not be negative", ErrConfiguration)
	}
	if config.Keys == nil {
		return nil, fmt.Errorf("%w: key source is required", ErrConfiguration)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	config.Audiences = slices.Clone(config.Audiences)

	return &Validator{config: config, parser: jwt.NewParser()}, nil
}

// Validate verifies credential and returns its claims.
//
// Checks run in a fixed order and stop at the first failure: structure,
// algorithm and key, signature, issuer, audience, validity window.
// Every failure is a *ValidationError wrapping one taxonomy sentinel.
func (v *Validator) Validate(ctx context.Context, credential string) (*Claims, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	if strings.Count(credential, ".") != 2 {
		return nil, reject(ErrMalformedCredential, "expected three segments")
	}

	mc := jwt.MapClaims{}
	token, parts, err := v.parser.ParseUnverified(credential, mc)
	if err != nil {
		// An unknown or absent alg still yields a decoded header and claims.
		if errors.Is(err, jwt.ErrTokenUnverifiable) && token != nil {
			alg, _ := token.Header["alg"].(string)
			return nil, reject(ErrUnsupportedAlgorithm, "alg %q", alg)
		}
		return nil, rejectWith(ErrMalformedCredential, err, "")
	}

	alg, _ := token.Header["alg"].(string)
	wantKty, ok := supportedAlgorithms[alg]
	if !ok {
		return nil, reject(ErrUnsupportedAlgorithm, "alg %q", alg)
	}

	kid, _ := token.Header["kid"].(string)
	key, err := v.config.Keys.Key(ctx, v.config.Issuer, kid)
	if err != nil {
		return nil, err
	}
	if kty := key.KeyType(); kty != wantKty {
		return nil, reject(ErrUnsupportedAlgorithm, "alg %q needs a %s key, kid %q is %s", alg, wantKty, kid, kty)
	}
	if key.Algorithm != "" && key.Algorithm != alg {
		return nil, reject(ErrUnsupportedAlgorithm, "alg %q does not match key alg %q", alg, key.Algorithm)
	}

	sig, err := v.parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, rejectWith(ErrMalformedCredential, err, "signature encoding")
	}
	if err := token.Method.Verify(parts[0]+"."+parts[1], sig, key.Key); err != nil {
		return nil, rejectWith(ErrInvalidSignature, err, fmt.Sprintf("kid %q", kid))
	}

	return claimChecks{
		issuer:    v.config.Issuer,
		audiences: v.config.Audiences,
		leeway:    v.config.Leeway,
		now:       v.config.Now(),
	}.check(mc)
}

// claimChecks verifies the registered claims of an authenticated
// credential: issuer, then audience, then validity window.
type claimChecks struct {
	issuer    string
	audiences []string
	leeway    time.Duration
	now       time.Time
}

func (cc claimChecks) check(mc jwt.MapClaims) (*Claims, error) {
	iss, _ := mc["iss"].(string)
	if iss != cc.issuer {
		return nil, reject(ErrIssuerMismatch, "got %q", iss)
	}

	aud, ok := audiences(mc["aud"])
	if !ok {
		return nil, reject(ErrMalformedCredential, "aud must be a string or an array of strings")
	}
	if !slices.ContainsFunc(aud, func(a string) bool { return slices.Contains(cc.audiences, a) }) {
		return nil, reject(ErrAudienceMismatch, "got %v", aud)
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, rejectWith(ErrMalformedCredential, err, "exp")
	}
	if exp == nil {
		return nil, reject(ErrMalformedCredential, "exp is required")
	}
	nbf, err := mc.GetNotBefore()
	if err != nil {
		return nil, rejectWith(ErrMalformedCredential, err, "nbf")
	}
	iat, err := mc.GetIssuedAt()
	if err != nil {
		return nil, rejectWith(ErrMalformedCredential, err, "iat")
	}

	now, leeway := cc.now, cc.leeway
	if !exp.After(now.Add(-leeway)) {
		return nil, reject(ErrExpired, "exp %s", exp.UTC().Format(time.RFC3339))
	}
	if nbf != nil && nbf.After(now.Add(leeway)) {
		return nil, reject(ErrNotYetValid, "nbf %s", nbf.UTC().Format(time.RFC3339))
	}

	claims := &Claims{
		Subject:   stringClaim(mc, "sub"),
		Issuer:    iss,
		Audiences: aud,
		ExpiresAt: exp.Time,
		ClientID:  stringClaim(mc, "azp"),
		Extra:     extraClaims(mc),
	}
	if claims.ClientID == "" {
		claims.ClientID = stringClaim(mc, "client_id")
	}
	if s, ok := mc["scope"]; ok {
		claims.Scopes = ParseScopes(s)
	} else {
		claims.Scopes = ParseScopes(mc["scp"])
	}
	if nbf != nil {
		claims.NotBefore = nbf.Time
	}
	if iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, nil
}
