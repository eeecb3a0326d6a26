// Package identity is the boundary between the session authority and the
// identity provider.
//
// It covers four remote concerns: acquiring an access credential (silently
// from a cache or interactively through a device verification step), checking
// that a credential is still accepted, fetching the user it belongs to, and
// revoking it. The session state machine depends only on the interfaces in
// provider.go; the Google implementations live in cache.go and google.go.
package identity
