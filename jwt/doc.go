// Package jwt is the token codec: it signs and verifies access and refresh
// tokens with a fixed configuration and holds no other state.
//
// # Claim shapes
//
// Verified payloads are returned as [Claims], a closed union of
// [*AccessClaims] and [*RefreshClaims] discriminated by the "typ" claim.
// Refresh claims always carry a token family ("fam") and a token id ("jti");
// access claims never do. Tokens that break this rule fail verification.
//
// # Architecture boundaries
//
// This package does NOT track issued tokens, detect reuse, or decide what a
// failed verification means. Those responsibilities belong to the Engine and
// the session registry.
//
// # What this package must NOT do
//
//   - Import goRotate or session (no upward imports).
//   - Return verification errors from [Manager.Verify]; failures become nil.
//   - Check expiry anywhere except through the signed "exp" claim.
package jwt
