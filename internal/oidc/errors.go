package oidc

import "errors"

// Error kinds for the login flow. Every failure in this package wraps one of
// these sentinels so callers can classify with errors.Is; all of them are
// fatal to the current flow invocation.
var (
	// ErrDiscovery indicates the provider's metadata document was
	// unreachable, malformed, or missing a required endpoint.
	ErrDiscovery = errors.New("provider discovery failed")

	// ErrMissingFlowState indicates the session lacked the state, nonce, or
	// code verifier at callback time. The user must restart the login.
	ErrMissingFlowState = errors.New("login flow state missing from session")

	// ErrCallbackValidation indicates the provider signaled an error on the
	// callback, or the returned state did not match the stored one.
	ErrCallbackValidation = errors.New("callback validation failed")

	// ErrProviderChallenge indicates the token endpoint answered the code
	// exchange with an authentication challenge. The exchange must be a
	// single backend call; a challenge means the client is misconfigured.
	ErrProviderChallenge = errors.New("unexpected authentication challenge from token endpoint")

	// ErrTokenValidation indicates the token response was not a valid OpenID
	// response: missing ID token, bad signature/issuer/audience, or a nonce
	// mismatch.
	ErrTokenValidation = errors.New("token validation failed")
)
