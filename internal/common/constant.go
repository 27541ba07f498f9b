// Package common contains shared constants and sentinel errors used across
// mintydoc components.
package common

// AuthorizationHeaderName carries the operator bearer token on admin requests.
const AuthorizationHeaderName = "Authorization"

// ClientRequestIDHeaderName lets clients flag a reserve-intent call as a retry.
const ClientRequestIDHeaderName = "X-Client-Request-Id"
