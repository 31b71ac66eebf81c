package macaroon

import (
	"bytes"
	"fmt"
)

// Macaroon is a bearer credential: an identifier, an ordered caveat list and
// a signature computed as a chained MAC rooted in a shared secret. Discharge
// credentials for its third-party caveats are bound into the credential
// before a request.
//
// Construction methods mutate the credential in place and are not safe for
// concurrent use; appending caveats or binding discharges must not interleave
// with Verify on the same credential.
type Macaroon struct {
	locationHints map[string]struct{}
	id            []byte
	caveats       []Caveat
	signature     string

	// bound maps discharge identifiers (compared by byte value) to the
	// discharge credentials bound for them, signatures already transformed
	// by BindForRequest.
	bound map[string][]*Macaroon

	scheme Scheme
}

// Mint creates a credential under the default SimpleScheme. The secret never
// becomes part of the credential; it is only needed again at verification.
func Mint(secret string, id []byte, locations ...string) (*Macaroon, error) {
	return MintWithScheme(SimpleScheme{}, secret, id, locations...)
}

// MintWithScheme creates a credential whose signature chain uses the given
// crypto scheme. Every credential later bound to or verified against it must
// use the same scheme.
func MintWithScheme(scheme Scheme, secret string, id []byte, locations ...string) (*Macaroon, error) {
	sig, err := scheme.MAC(secret, id)
	if err != nil {
		return nil, wrapError(ErrCodeCryptoFailure, "mint signature", err)
	}
	m := &Macaroon{
		locationHints: make(map[string]struct{}, len(locations)),
		id:            bytes.Clone(id),
		signature:     sig,
		bound:         make(map[string][]*Macaroon),
		scheme:        scheme,
	}
	for _, loc := range locations {
		m.locationHints[loc] = struct{}{}
	}
	return m, nil
}

// ID returns a copy of the credential identifier.
func (m *Macaroon) ID() []byte {
	return bytes.Clone(m.id)
}

// Signature returns the current signature of the credential.
func (m *Macaroon) Signature() string {
	return m.signature
}

// LocationHints returns the advisory target locations, sorted. They never
// enter any cryptographic computation.
func (m *Macaroon) LocationHints() []string {
	return sortedKeys(m.locationHints)
}

// Caveats returns a copy of the caveat list in insertion order.
func (m *Macaroon) Caveats() []Caveat {
	out := make([]Caveat, len(m.caveats))
	for i, c := range m.caveats {
		out[i] = cloneCaveat(c)
	}
	return out
}

// BoundDischarges returns a copy of the bound discharge credentials, keyed
// by discharge identifier.
func (m *Macaroon) BoundDischarges() map[string][]*Macaroon {
	out := make(map[string][]*Macaroon, len(m.bound))
	for id, discharges := range m.bound {
		copies := make([]*Macaroon, len(discharges))
		for i, d := range discharges {
			copies[i] = d.Clone()
		}
		out[id] = copies
	}
	return out
}

// AddFirstPartyCaveat appends a first-party caveat and folds its identifier
// into the signature chain. The caveat is cloned before insertion; the
// appended clone is returned.
func (m *Macaroon) AddFirstPartyCaveat(c *FirstPartyCaveat) (*FirstPartyCaveat, error) {
	clone := c.Clone()
	sig, err := m.scheme.MAC(m.signature, clone.id)
	if err != nil {
		return nil, wrapError(ErrCodeCryptoFailure, "append first-party caveat", err)
	}
	m.caveats = append(m.caveats, clone)
	m.signature = sig
	return clone, nil
}

// AddThirdPartyCaveat appends a third-party caveat: the caveat's root key is
// replaced with the verification key (the root key encrypted under the
// current signature) and the signature absorbs the verification key followed
// by the caveat identifier. The caveat is cloned before insertion; the
// appended clone is returned.
func (m *Macaroon) AddThirdPartyCaveat(c *ThirdPartyCaveat) (*ThirdPartyCaveat, error) {
	clone := c.Clone()
	verificationKey, err := m.scheme.Encrypt(m.signature, clone.rootOrVerificationKey)
	if err != nil {
		return nil, wrapError(ErrCodeCryptoFailure, "encrypt caveat root key", err)
	}
	clone.rootOrVerificationKey = verificationKey

	sig, err := m.scheme.MAC(m.signature, thirdPartyMACInput(clone))
	if err != nil {
		return nil, wrapError(ErrCodeCryptoFailure, "append third-party caveat", err)
	}
	m.caveats = append(m.caveats, clone)
	m.signature = sig
	return clone, nil
}

// thirdPartyMACInput is the byte concatenation folded into the signature for
// a third-party caveat: verification key first, then the caveat identifier.
func thirdPartyMACInput(c *ThirdPartyCaveat) []byte {
	out := make([]byte, 0, len(c.rootOrVerificationKey)+len(c.id))
	out = append(out, c.rootOrVerificationKey...)
	return append(out, c.id...)
}

// BindForRequest binds a discharge credential to this credential: the
// discharge is cloned and its signature is transformed by the one-way
// binding function, tying it to this credential for a request.
//
// A discharge that itself has bound discharges is rejected; those discharges
// belong on this credential instead, keeping the bound set flat.
func (m *Macaroon) BindForRequest(discharge *Macaroon) error {
	if len(discharge.bound) != 0 {
		return NewError(ErrCodeInvalidArgument,
			"discharge credential has bound discharges of its own; bind them to this credential instead")
	}
	clone := discharge.Clone()
	clone.signature = m.scheme.BindForRequest(clone.signature)

	key := string(clone.id)
	for _, existing := range m.bound[key] {
		if existing.Equal(clone) {
			return nil
		}
	}
	m.bound[key] = append(m.bound[key], clone)
	return nil
}

// ThirdPartyCaveatsFor returns copies of the third-party caveats whose
// location hints intersect the given locations and which have no bound
// discharge yet. Useful to a caller assembling the discharges for a request.
func (m *Macaroon) ThirdPartyCaveatsFor(locations ...string) []*ThirdPartyCaveat {
	want := make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		want[loc] = struct{}{}
	}

	var out []*ThirdPartyCaveat
	for _, c := range m.caveats {
		tpc, ok := c.(*ThirdPartyCaveat)
		if !ok || len(m.bound[string(tpc.id)]) != 0 {
			continue
		}
		for loc := range tpc.locations {
			if _, ok := want[loc]; ok {
				out = append(out, tpc.Clone())
				break
			}
		}
	}
	return out
}

// Clone returns a deep copy of the credential.
func (m *Macaroon) Clone() *Macaroon {
	clone := &Macaroon{
		locationHints: make(map[string]struct{}, len(m.locationHints)),
		id:            bytes.Clone(m.id),
		caveats:       make([]Caveat, len(m.caveats)),
		signature:     m.signature,
		bound:         make(map[string][]*Macaroon, len(m.bound)),
		scheme:        m.scheme,
	}
	for loc := range m.locationHints {
		clone.locationHints[loc] = struct{}{}
	}
	for i, c := range m.caveats {
		clone.caveats[i] = cloneCaveat(c)
	}
	for id, discharges := range m.bound {
		copies := make([]*Macaroon, len(discharges))
		for i, d := range discharges {
			copies[i] = d.Clone()
		}
		clone.bound[id] = copies
	}
	return clone
}

// Equal reports whether two credentials are structurally identical:
// identifier, caveats, signature, bound discharges and location hints.
// Location hints participate even though they are advisory, so two
// credentials that differ only in routing hints compare unequal.
func (m *Macaroon) Equal(o *Macaroon) bool {
	if m == o {
		return true
	}
	if o == nil || m.signature != o.signature || !bytes.Equal(m.id, o.id) {
		return false
	}
	if !stringSetsEqual(m.locationHints, o.locationHints) {
		return false
	}
	if len(m.caveats) != len(o.caveats) {
		return false
	}
	for i, c := range m.caveats {
		if !caveatsEqual(c, o.caveats[i]) {
			return false
		}
	}
	if len(m.bound) != len(o.bound) {
		return false
	}
	for id, discharges := range m.bound {
		others, ok := o.bound[id]
		if !ok || !dischargeSetsEqual(discharges, others) {
			return false
		}
	}
	return true
}

// dischargeSetsEqual compares two discharge lists as sets under structural
// equality.
func dischargeSetsEqual(a, b []*Macaroon) bool {
	if len(a) != len(b) {
		return false
	}
	matched := make([]bool, len(b))
outer:
	for _, d := range a {
		for i, other := range b {
			if !matched[i] && d.Equal(other) {
				matched[i] = true
				continue outer
			}
		}
		return false
	}
	return true
}

func (m *Macaroon) String() string {
	return fmt.Sprintf("Macaroon{id=%s, caveats=%d, discharges=%d}", m.id, len(m.caveats), len(m.bound))
}
