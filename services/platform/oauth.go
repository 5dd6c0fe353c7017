// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/tokenstore"
)

// oauthScopes is the scope set the pipeline needs: reading trends and
// timelines, publishing, profile lookup, and offline refresh.
const oauthScopes = "tweet.read tweet.write users.read offline.access"

// BeginLogin starts a PKCE login attempt and returns the authorization
// URL the browser should be redirected to, plus the state for the
// caller's bookkeeping.
func (c *Client) BeginLogin() (authURL, state string, err error) {
	attempt, err := c.logins.Begin()
	if err != nil {
		return "", "", err
	}
	url := c.oauth.AuthCodeURL(attempt.State,
		oauth2.SetAuthURLParam("code_challenge", attempt.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return url, attempt.State, nil
}

// ExchangeAuthCode completes the PKCE flow for a callback carrying the
// given state and code. The state must match an in-flight login
// attempt; its verifier is consumed (single-use) and sent with the
// token exchange. On success the returned credential includes the
// subject's profile fields.
func (c *Client) ExchangeAuthCode(ctx context.Context, state, code string) (tokenstore.Credential, Profile, error) {
	attempt, ok := c.logins.Take(state)
	if !ok {
		return tokenstore.Credential{}, Profile{}, fmt.Errorf("unknown or expired login state: %w", faults.ErrUnauthenticated)
	}

	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(attempt.Verifier))
	if err != nil {
		return tokenstore.Credential{}, Profile{}, fmt.Errorf("token exchange: %w", faults.ErrUnauthenticated)
	}

	profile, err := c.fetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return tokenstore.Credential{}, Profile{}, fmt.Errorf("fetching profile after exchange: %w", err)
	}

	cred := tokenstore.Credential{
		SubjectID:    profile.ID,
		Handle:       profile.Username,
		AvatarURL:    profile.AvatarURL,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	return cred, profile, nil
}

// Refresh implements tokenstore.Refresher: it exchanges a refresh token
// for a new credential via grant_type=refresh_token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (tokenstore.Credential, error) {
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return tokenstore.Credential{}, fmt.Errorf("refresh grant: %w", err)
	}
	return tokenstore.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// fetchProfile loads the authenticated user's identity.
func (c *Client) fetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	var resp userResponse
	err := c.getJSON(ctx, accessToken, "/users/me", map[string]string{
		"user.fields": "profile_image_url,username",
	}, &resp)
	if err != nil {
		return Profile{}, err
	}
	if resp.Data.ID == "" {
		return Profile{}, fmt.Errorf("profile payload missing id: %w", faults.ErrInvalidResponse)
	}
	return Profile{
		ID:        resp.Data.ID,
		Username:  resp.Data.Username,
		AvatarURL: resp.Data.ProfileImageURL,
	}, nil
}
