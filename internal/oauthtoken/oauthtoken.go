// Package oauthtoken adapts golang.org/x/oauth2 into the engine's minimal
// provider.TokenSource, the way the teacher's internal/graph/auth.go
// tokenBridge adapts oauth2.TokenSource to graph.TokenSource. Google Drive
// and GCS both authenticate against Google's OAuth2 endpoint with a bearer
// access token refreshed from a long-lived refresh token; S3 never calls
// this (presigned URLs carry their own auth).
package oauthtoken

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
)

// googleEndpoint is Google's OAuth2 token endpoint, inlined rather than
// importing golang.org/x/oauth2/google: that package pulls in
// cloud.google.com/go/compute/metadata for ambient-credential discovery
// this engine never uses (it is always handed an explicit refresh token).
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// Source adapts an oauth2.TokenSource to provider.TokenSource (a single
// Token() (string, error) method), logging refresh activity the way the
// teacher's tokenBridge does.
type Source struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

// NewFromRefreshToken builds a Source that refreshes access tokens against
// Google's OAuth2 token endpoint using a long-lived refresh token obtained
// out-of-band (login/consent flows are out of scope here — §1: the engine
// is handed a TokenSource, it does not perform interactive auth itself).
func NewFromRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string, scopes []string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleEndpoint,
		Scopes:       scopes,
	}

	seed := &oauth2.Token{RefreshToken: refreshToken}

	return &Source{src: cfg.TokenSource(ctx, seed), logger: logger}
}

// Token implements provider.TokenSource.
func (s *Source) Token() (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		s.logger.Warn("oauthtoken: acquiring token failed", slog.String("error", err.Error()))

		return "", fmt.Errorf("oauthtoken: obtaining token: %w", err)
	}

	s.logger.Debug("oauthtoken: token acquired",
		slog.Time("expiry", tok.Expiry),
		slog.Bool("valid", tok.Valid()),
	)

	return tok.AccessToken, nil
}
