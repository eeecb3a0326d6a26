// Package document models provider documents as a closed tree of nodes and
// flattens that tree into linear text for analysis.
//
// The node set is sealed: only this package can declare variants. Elements the
// provider returns that carry no text for this system are mapped to Opaque and
// contribute nothing to extraction. That leniency is deliberate so that new
// provider element kinds never break content relay; it is the one place to
// revisit if a new kind should start contributing text.
package document
