package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/crview/crview-cli/internal/api"
)

// LoginPath is the password grant token endpoint of the review platform.
const LoginPath = "/api/auth/login"

// PasswordLogin exchanges an email and password for a session token using the
// OAuth2 resource owner password grant. The endpoint expects the form fields
// username and password.
func PasswordLogin(ctx context.Context, httpClient *http.Client, baseURL, email, password string) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  baseURL + LoginPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	token, err := cfg.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, api.ParseError(retrieveErr.Response.StatusCode, retrieveErr.Body)
		}
		return nil, fmt.Errorf("login request failed: %w", err)
	}

	return token, nil
}

// UserFromToken returns the user profile the login endpoint sends next to the token.
// It returns nil when the response carried no profile.
func UserFromToken(token *oauth2.Token) *api.User {
	raw := token.Extra("user")
	if raw == nil {
		return nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}

	var user api.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil
	}
	return &user
}
