// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// DefaultJWTLeeway is the clock skew tolerated on exp and nbf.
const DefaultJWTLeeway = 30 * time.Second

// JWTConfig configures JWTAuthProvider.
type JWTConfig struct {
	// PublicKey is the panel's verification key as a PEM block (PKIX or
	// RSA PKCS#1) or a JSON Web Key. Required.
	PublicKey string

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Audience, when set, must appear in the token's aud claim.
	Audience string

	// Leeway tolerates clock skew. Default: DefaultJWTLeeway
	Leeway time.Duration

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// JWTAuthProvider verifies panel-signed JWTs.
//
// # Description
//
// Accepts RS256 tokens for RSA keys and ES256 tokens for P-256 keys. The
// token's exp and nbf claims are enforced with Leeway; iss and aud are
// enforced only when configured.
//
// # Examples
//
//	provider, err := extensions.NewJWTAuthProvider(extensions.JWTConfig{
//	    PublicKey: os.Getenv("PANEL_JWT_PUBLIC_KEY"),
//	})
//	opts := extensions.DefaultOptions().WithAuth(provider)
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type JWTAuthProvider struct {
	key       any
	algorithm jose.SignatureAlgorithm
	expected  jwt.Expected
	leeway    time.Duration
	now       func() time.Time
}

var _ AuthProvider = (*JWTAuthProvider)(nil)

// NewJWTAuthProvider parses the verification key and builds a provider.
func NewJWTAuthProvider(cfg JWTConfig) (*JWTAuthProvider, error) {
	key, err := parsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, err
	}

	var alg jose.SignatureAlgorithm
	switch k := key.(type) {
	case *rsa.PublicKey:
		alg = jose.RS256
	case *ecdsa.PublicKey:
		if k.Curve.Params().Name != "P-256" {
			return nil, fmt.Errorf("unsupported ECDSA curve %s", k.Curve.Params().Name)
		}
		alg = jose.ES256
	default:
		return nil, fmt.Errorf("unsupported public key type %T", key)
	}

	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = DefaultJWTLeeway
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	expected := jwt.Expected{Issuer: cfg.Issuer}
	if cfg.Audience != "" {
		expected.Audience = jwt.Audience{cfg.Audience}
	}

	return &JWTAuthProvider{
		key:       key,
		algorithm: alg,
		expected:  expected,
		leeway:    leeway,
		now:       now,
	}, nil
}

// Validate verifies the token signature and standard claims.
func (p *JWTAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}

	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", ErrUnauthorized)
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].Algorithm != string(p.algorithm) {
		return nil, fmt.Errorf("unexpected signing algorithm: %w", ErrUnauthorized)
	}

	var (
		claims jwt.Claims
		extra  map[string]any
	)
	if err := parsed.Claims(p.key, &claims, &extra); err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", ErrUnauthorized)
	}

	expected := p.expected.WithTime(p.now())
	if err := claims.ValidateWithLeeway(expected, p.leeway); err != nil {
		return nil, fmt.Errorf("invalid claims: %v: %w", err, ErrUnauthorized)
	}

	for _, registered := range []string{"iss", "sub", "aud", "exp", "nbf", "iat", "jti"} {
		delete(extra, registered)
	}

	subject := claims.Subject
	if subject == "" {
		subject = "panel"
	}
	return &AuthInfo{Subject: subject, Issuer: claims.Issuer, Claims: extra}, nil
}

// parsePublicKey accepts a PEM public key or a JWK.
func parsePublicKey(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("public key is required")
	}

	if strings.HasPrefix(raw, "{") {
		var jwk jose.JSONWebKey
		if err := json.Unmarshal([]byte(raw), &jwk); err != nil {
			return nil, fmt.Errorf("failed to parse JWK: %w", err)
		}
		if !jwk.IsPublic() {
			return jwk.Public().Key, nil
		}
		return jwk.Key, nil
	}

	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("public key is neither PEM nor JWK")
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return key, nil
	}
}
