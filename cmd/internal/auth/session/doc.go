// Package session owns the authentication state of the docrelay authority.
//
// Service is the single writer of the session record. It acquires a
// credential through the identity boundary, validates it remotely, attaches
// the user it belongs to, and persists an observable snapshot to a Store.
// Only one acquisition is in flight at a time; concurrent sign-in and
// revalidation calls join it and share its result.
//
// Snapshots never carry the raw credential, only a fingerprint of it
// (HMAC-SHA256 when DOCRELAY_TOKEN_HMAC_KEY is set; otherwise SHA-256).
//
// Transport (WS) integration lives in the relay package.
package session
