package macaroon

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Caveat is an attenuation attached to a credential: either a first-party
// predicate evaluated against a verification context, or a third-party
// obligation discharged by a bound discharge credential.
//
// The type is sealed; FirstPartyCaveat and ThirdPartyCaveat are the only
// implementations.
type Caveat interface {
	// CaveatID returns a copy of the caveat identifier. The identifier is
	// public and participates in the credential's MAC chain.
	CaveatID() []byte

	isCaveat()
}

// Predicate checks a first-party caveat against a verification context.
// A nil return means the caveat holds; the predicate may narrow the context.
type Predicate func(*Context) error

// FirstPartyCaveat is an assertion verified locally against a context.
type FirstPartyCaveat struct {
	id        []byte
	predicate Predicate
}

// NewFirstPartyCaveat creates an opaque first-party caveat with an
// application-defined predicate.
func NewFirstPartyCaveat(id []byte, predicate Predicate) *FirstPartyCaveat {
	return &FirstPartyCaveat{id: bytes.Clone(id), predicate: predicate}
}

func (c *FirstPartyCaveat) CaveatID() []byte {
	return bytes.Clone(c.id)
}

func (c *FirstPartyCaveat) isCaveat() {}

// Verify runs the caveat's predicate against ctx.
func (c *FirstPartyCaveat) Verify(ctx *Context) error {
	if c.predicate == nil {
		return newErrorf(ErrCodeInvalidArgument, "first-party caveat %q has no predicate", c.id)
	}
	return c.predicate(ctx)
}

// Clone returns a copy sharing the predicate.
func (c *FirstPartyCaveat) Clone() *FirstPartyCaveat {
	return &FirstPartyCaveat{id: bytes.Clone(c.id), predicate: c.predicate}
}

func (c *FirstPartyCaveat) String() string {
	return fmt.Sprintf("FirstPartyCaveat{%s}", c.id)
}

var (
	rangeCaveatPattern      = regexp.MustCompile(`^(.*) ∈ \[(.*), (.*)]$`)
	membershipCaveatPattern = regexp.MustCompile(`^(.*) ∈ \[(.*)]$`)
)

// memberSeparator joins members inside a membership caveat identifier.
// Members may not contain it, since the identifier is the authoritative
// representation of the caveat.
const memberSeparator = ", "

// NewRangeCaveat creates a first-party caveat constraining uuid to [lo, hi].
// Its identifier has the byte-exact form "<uuid> ∈ [<lo>, <hi>]"; the
// predicate intersects the range with any range already registered for uuid.
func NewRangeCaveat(uuid string, lo, hi int64) (*FirstPartyCaveat, error) {
	if hi < lo {
		return nil, newErrorf(ErrCodeInvalidArgument,
			"range lower bound %d is greater than upper bound %d", lo, hi)
	}
	id := []byte(uuid + " ∈ [" + strconv.FormatInt(lo, 10) + memberSeparator + strconv.FormatInt(hi, 10) + "]")
	return &FirstPartyCaveat{
		id: id,
		predicate: func(ctx *Context) error {
			uuid, lo, hi, err := ParseRangeCaveatID(id)
			if err != nil {
				return err
			}
			return ctx.AddRange(uuid, lo, hi)
		},
	}, nil
}

// ParseRangeCaveatID extracts the uuid and bounds from a range caveat
// identifier.
func ParseRangeCaveatID(id []byte) (uuid string, lo, hi int64, err error) {
	groups := rangeCaveatPattern.FindSubmatch(id)
	if groups == nil {
		return "", 0, 0, newErrorf(ErrCodeInvalidArgument,
			"caveat identifier %q is not a range constraint", id)
	}
	lo, err = strconv.ParseInt(string(groups[2]), 10, 64)
	if err != nil {
		return "", 0, 0, newErrorf(ErrCodeInvalidArgument,
			"range caveat %q: bad lower bound", id)
	}
	hi, err = strconv.ParseInt(string(groups[3]), 10, 64)
	if err != nil {
		return "", 0, 0, newErrorf(ErrCodeInvalidArgument,
			"range caveat %q: bad upper bound", id)
	}
	return string(groups[1]), lo, hi, nil
}

// NewMembershipCaveat creates a first-party caveat requiring uuid to be
// narrowed to the given members. Its identifier has the form
// "<uuid> ∈ [<m1>, <m2>, …]" with members sorted; no member may contain
// the ", " separator.
func NewMembershipCaveat(uuid string, members ...string) (*FirstPartyCaveat, error) {
	for _, member := range members {
		if strings.Contains(member, memberSeparator) {
			return nil, newErrorf(ErrCodeInvalidArgument,
				"member %q contains the %q separator", member, memberSeparator)
		}
	}
	sorted := dedupeSorted(members)
	id := []byte(uuid + " ∈ [" + strings.Join(sorted, memberSeparator) + "]")
	return &FirstPartyCaveat{
		id: id,
		predicate: func(ctx *Context) error {
			uuid, members, err := ParseMembershipCaveatID(id)
			if err != nil {
				return err
			}
			return ctx.AddMembership(uuid, members...)
		},
	}, nil
}

// ParseMembershipCaveatID extracts the uuid and members from a membership
// caveat identifier.
func ParseMembershipCaveatID(id []byte) (uuid string, members []string, err error) {
	groups := membershipCaveatPattern.FindSubmatch(id)
	if groups == nil {
		return "", nil, newErrorf(ErrCodeInvalidArgument,
			"caveat identifier %q is not a membership constraint", id)
	}
	return string(groups[1]), strings.Split(string(groups[2]), memberSeparator), nil
}

func dedupeSorted(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, member := range members {
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		out = append(out, member)
	}
	sort.Strings(out)
	return out
}

// ThirdPartyCaveat is an obligation discharged by a separate credential
// signed under the caveat's root key. Before the caveat is appended to a
// credential the key field holds the plaintext root key; appending replaces
// it with the verification key (the root key encrypted under the
// credential's then-current signature).
type ThirdPartyCaveat struct {
	id                    []byte
	rootOrVerificationKey []byte
	locations             map[string]struct{}
}

// NewThirdPartyCaveat creates a third-party caveat from a root key, an
// identifier and hints to the locations able to discharge it.
func NewThirdPartyCaveat(rootKey string, id []byte, locations ...string) *ThirdPartyCaveat {
	c := &ThirdPartyCaveat{
		id:                    bytes.Clone(id),
		rootOrVerificationKey: []byte(rootKey),
		locations:             make(map[string]struct{}, len(locations)),
	}
	for _, loc := range locations {
		c.locations[loc] = struct{}{}
	}
	return c
}

func (c *ThirdPartyCaveat) CaveatID() []byte {
	return bytes.Clone(c.id)
}

func (c *ThirdPartyCaveat) isCaveat() {}

// RootOrVerificationKey returns a copy of the caveat's key material: the
// root key before the caveat is appended, the verification key afterwards.
func (c *ThirdPartyCaveat) RootOrVerificationKey() []byte {
	return bytes.Clone(c.rootOrVerificationKey)
}

// Locations returns the discharge location hints, sorted.
func (c *ThirdPartyCaveat) Locations() []string {
	return sortedKeys(c.locations)
}

// AddLocation adds a discharge location hint. It reports whether the hint
// was not yet present.
func (c *ThirdPartyCaveat) AddLocation(location string) bool {
	if _, ok := c.locations[location]; ok {
		return false
	}
	c.locations[location] = struct{}{}
	return true
}

// RemoveLocation deletes a discharge location hint. It reports whether the
// hint was present.
func (c *ThirdPartyCaveat) RemoveLocation(location string) bool {
	if _, ok := c.locations[location]; !ok {
		return false
	}
	delete(c.locations, location)
	return true
}

// Clone returns a deep copy of the caveat.
func (c *ThirdPartyCaveat) Clone() *ThirdPartyCaveat {
	clone := &ThirdPartyCaveat{
		id:                    bytes.Clone(c.id),
		rootOrVerificationKey: bytes.Clone(c.rootOrVerificationKey),
		locations:             make(map[string]struct{}, len(c.locations)),
	}
	for loc := range c.locations {
		clone.locations[loc] = struct{}{}
	}
	return clone
}

// Equal reports whether two third-party caveats have the same identifier,
// key material and locations.
func (c *ThirdPartyCaveat) Equal(o *ThirdPartyCaveat) bool {
	if c == o {
		return true
	}
	if o == nil || !bytes.Equal(c.id, o.id) || !bytes.Equal(c.rootOrVerificationKey, o.rootOrVerificationKey) {
		return false
	}
	return stringSetsEqual(c.locations, o.locations)
}

func (c *ThirdPartyCaveat) String() string {
	return fmt.Sprintf("ThirdPartyCaveat{id=%s, locations=%v}", c.id, c.Locations())
}

// cloneCaveat copies any caveat variant. The Caveat type is sealed, so an
// unknown variant is an invariant violation.
func cloneCaveat(c Caveat) Caveat {
	switch c := c.(type) {
	case *FirstPartyCaveat:
		return c.Clone()
	case *ThirdPartyCaveat:
		return c.Clone()
	default:
		panic(newErrorf(ErrCodeUnknownCaveatKind, "caveat type %T", c))
	}
}

func caveatsEqual(a, b Caveat) bool {
	switch a := a.(type) {
	case *FirstPartyCaveat:
		b, ok := b.(*FirstPartyCaveat)
		return ok && bytes.Equal(a.id, b.id)
	case *ThirdPartyCaveat:
		b, ok := b.(*ThirdPartyCaveat)
		return ok && a.Equal(b)
	default:
		return false
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stringSetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
