// Package config loads the signin configuration.
//
// Values are resolved in three layers, later ones winning:
//
//  1. Built-in defaults (GetDefaultConfig)
//  2. ~/.config/signin/config.yaml
//  3. SIGNIN_* environment variables
//
// Example config.yaml:
//
//	issuer: https://example.okta.com
//	client_id: abc
//	redirect_uri: http://127.0.0.1:8085/callback
//	scopes: [openid, profile, email, offline_access]
//	refresh_window: 5m
//	storage:
//	  backend: keyring
//
// Environment overrides use the same names in upper case, for example
// SIGNIN_CLIENT_ID, SIGNIN_SCOPES="openid email", SIGNIN_ENDPOINT_TOKEN,
// SIGNIN_STORAGE_BACKEND and SIGNIN_OTEL_ENDPOINT.
//
// Validate reports problems as *oauth.ConfigError.
package config
