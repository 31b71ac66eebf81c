// Package macaroon implements macaroons: bearer credentials that can be
// attenuated by appending caveats and delegated by binding discharge
// credentials minted by third parties.
//
// A credential carries an identifier, an ordered caveat list and a signature
// computed as a chained MAC rooted in a shared secret. First-party caveats are
// predicates checked locally against a verification context; third-party
// caveats are obligations discharged by presenting a bound discharge
// credential signed under a root key that was encrypted into the caveat.
// Verification replays the MAC chain and explores the bound discharges,
// returning every context in which the credential holds.
//
// The cryptographic primitives are abstracted behind the Scheme interface;
// SimpleScheme provides the default HMAC-SHA-256 / AES-CTR realization.
package macaroon
