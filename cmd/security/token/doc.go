// Package token fingerprints provider credentials before they leave the authority.
//
// The raw access token only ever lives in the session service's memory. Snapshots
// written to durable storage carry a stable 64-char hex fingerprint instead, so
// observers can tell "same credential" from "new credential" without holding it.
//
// Modes:
// - Default dev mode: SHA-256(token) when no HMAC key is configured.
// - Enforced mode: HMAC-SHA256(token, key) when DOCRELAY_TOKEN_HMAC_KEY is set.
//
// Policy: with DOCRELAY_REQUIRE_TOKEN_HMAC=true the app refuses to start unless a
// key of at least 32 bytes is configured (see app.SecurityFingerprinter).
package token
