package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/streamline-studio/streamline/backend/go-services/internal/config"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/logger"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/middleware"
)

// ErrNotConfigured is returned when no Keycloak issuer can be derived.
var ErrNotConfigured = errors.New("oidc: keycloak not configured")

// Verifier wraps the OIDC provider and ID token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// NewFromConfig discovers the realm issuer; when no realm is set the URL itself
// is tried as issuer (deployments that expose the realm path in KEYCLOAK_URL).
func NewFromConfig(ctx context.Context, kc config.KeycloakConfig) (*Verifier, error) {
	if kc.URL == "" || kc.ClientID == "" {
		return nil, ErrNotConfigured
	}
	issuer := kc.Issuer()
	if issuer == "" {
		logger.Debugf("oidc: no realm configured, using %s as issuer", kc.URL)
		issuer = kc.URL
	}
	return NewVerifier(ctx, issuer, kc.ClientID)
}

// Verify checks the raw ID token and returns it as a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}
