package macaroon

import (
	"encoding/base64"
	"encoding/json"
	"sort"
)

// PredicateResolver supplies predicates for opaque first-party caveat
// identifiers when decoding a credential. It reports whether it recognized
// the identifier.
type PredicateResolver func(id []byte) (Predicate, bool)

const (
	caveatKindFirstParty = "first-party"
	caveatKindThirdParty = "third-party"
)

type caveatJSON struct {
	Kind            string   `json:"kind"`
	Identifier      []byte   `json:"identifier"`
	VerificationKey []byte   `json:"verification_key,omitempty"`
	Locations       []string `json:"locations,omitempty"`
}

type macaroonJSON struct {
	Identifier    []byte                    `json:"identifier"`
	LocationHints []string                  `json:"location_hints,omitempty"`
	Caveats       []caveatJSON              `json:"caveats,omitempty"`
	Signature     []byte                    `json:"signature"`
	Bound         map[string][]macaroonJSON `json:"bound,omitempty"`
}

func (m *Macaroon) toJSON() macaroonJSON {
	out := macaroonJSON{
		Identifier:    m.ID(),
		LocationHints: m.LocationHints(),
		Signature:     []byte(m.signature),
	}
	for _, c := range m.caveats {
		switch c := c.(type) {
		case *FirstPartyCaveat:
			out.Caveats = append(out.Caveats, caveatJSON{
				Kind:       caveatKindFirstParty,
				Identifier: c.CaveatID(),
			})
		case *ThirdPartyCaveat:
			out.Caveats = append(out.Caveats, caveatJSON{
				Kind:            caveatKindThirdParty,
				Identifier:      c.CaveatID(),
				VerificationKey: c.RootOrVerificationKey(),
				Locations:       c.Locations(),
			})
		}
	}
	if len(m.bound) > 0 {
		out.Bound = make(map[string][]macaroonJSON, len(m.bound))
		ids := make([]string, 0, len(m.bound))
		for id := range m.bound {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			key := base64.StdEncoding.EncodeToString([]byte(id))
			for _, d := range m.bound[id] {
				out.Bound[key] = append(out.Bound[key], d.toJSON())
			}
		}
	}
	return out
}

// MarshalJSON encodes the credential for transport. Only the structural
// state travels: the predicates of opaque first-party caveats are
// reattached at decode time through a PredicateResolver.
func (m *Macaroon) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.toJSON())
}

// DecodeJSON rebuilds a credential from its JSON encoding under the default
// SimpleScheme. Range and membership caveat identifiers get their built-in
// predicates back; any other first-party identifier is offered to resolver
// (which may be nil), and decodes to an always-failing predicate when
// unresolved, so an unrecognized caveat can never make a credential pass
// verification.
func DecodeJSON(data []byte, resolver PredicateResolver) (*Macaroon, error) {
	return DecodeJSONWithScheme(data, SimpleScheme{}, resolver)
}

// DecodeJSONWithScheme is DecodeJSON for credentials minted under a
// non-default scheme.
func DecodeJSONWithScheme(data []byte, scheme Scheme, resolver PredicateResolver) (*Macaroon, error) {
	var raw macaroonJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, wrapError(ErrCodeInvalidArgument, "decode credential", err)
	}
	return fromJSON(raw, scheme, resolver, true)
}

func fromJSON(raw macaroonJSON, scheme Scheme, resolver PredicateResolver, allowBound bool) (*Macaroon, error) {
	m := &Macaroon{
		locationHints: make(map[string]struct{}, len(raw.LocationHints)),
		id:            raw.Identifier,
		signature:     string(raw.Signature),
		bound:         make(map[string][]*Macaroon, len(raw.Bound)),
		scheme:        scheme,
	}
	for _, loc := range raw.LocationHints {
		m.locationHints[loc] = struct{}{}
	}

	for _, c := range raw.Caveats {
		switch c.Kind {
		case caveatKindFirstParty:
			m.caveats = append(m.caveats, &FirstPartyCaveat{
				id:        c.Identifier,
				predicate: resolvePredicate(c.Identifier, resolver),
			})
		case caveatKindThirdParty:
			tpc := &ThirdPartyCaveat{
				id:                    c.Identifier,
				rootOrVerificationKey: c.VerificationKey,
				locations:             make(map[string]struct{}, len(c.Locations)),
			}
			for _, loc := range c.Locations {
				tpc.locations[loc] = struct{}{}
			}
			m.caveats = append(m.caveats, tpc)
		default:
			return nil, newErrorf(ErrCodeUnknownCaveatKind, "caveat kind %q", c.Kind)
		}
	}

	for key, discharges := range raw.Bound {
		if !allowBound {
			return nil, NewError(ErrCodeInvalidArgument,
				"discharge credential carries bound discharges of its own")
		}
		id, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, wrapError(ErrCodeInvalidArgument, "decode bound discharge identifier", err)
		}
		for _, rawDischarge := range discharges {
			d, err := fromJSON(rawDischarge, scheme, resolver, false)
			if err != nil {
				return nil, err
			}
			m.bound[string(id)] = append(m.bound[string(id)], d)
		}
	}
	return m, nil
}

// resolvePredicate reattaches predicate semantics to a first-party caveat
// identifier: built-in structural forms first, then the caller's resolver.
func resolvePredicate(id []byte, resolver PredicateResolver) Predicate {
	if _, _, _, err := ParseRangeCaveatID(id); err == nil {
		return func(ctx *Context) error {
			uuid, lo, hi, err := ParseRangeCaveatID(id)
			if err != nil {
				return err
			}
			return ctx.AddRange(uuid, lo, hi)
		}
	}
	if _, _, err := ParseMembershipCaveatID(id); err == nil {
		return func(ctx *Context) error {
			uuid, members, err := ParseMembershipCaveatID(id)
			if err != nil {
				return err
			}
			return ctx.AddMembership(uuid, members...)
		}
	}
	if resolver != nil {
		if predicate, ok := resolver(id); ok {
			return predicate
		}
	}
	return func(*Context) error {
		return newErrorf(ErrCodeInvalidArgument, "no predicate known for caveat %q", id)
	}
}
