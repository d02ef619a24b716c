// Package idp is a client SDK for the hosted identity service that backs the
// panel. The service owns credential verification, session issuance, TOTP
// secret generation and factor storage; this package only speaks its HTTP API
// and decodes the results into Go types.
//
// The API surface mirrors a GoTrue-compatible provider: password and refresh
// token grants, sign-up, sign-out, and the TOTP factor lifecycle
// (list, enroll, challenge, verify).
package idp
