package macaroon

import (
	"fmt"
	"sort"
	"strings"
)

type span struct {
	lo, hi int64
}

// Context accumulates the structural constraints observed during a proof
// search: per-UUID membership sets and per-UUID integer ranges. Constraints
// only ever narrow; an addition that would widen an existing constraint, or
// that has an empty intersection with it, fails with a ContextConflict error.
type Context struct {
	memberships map[string]map[string]struct{}
	ranges      map[string]span
}

// NewContext creates an empty verification context.
func NewContext() *Context {
	return &Context{
		memberships: make(map[string]map[string]struct{}),
		ranges:      make(map[string]span),
	}
}

// AddMembership registers members for uuid. On first registration the set is
// stored as given; afterwards the stored set is replaced by the intersection,
// failing if members contains an element that is not already permitted.
func (c *Context) AddMembership(uuid string, members ...string) error {
	incoming := make(map[string]struct{}, len(members))
	for _, member := range members {
		incoming[member] = struct{}{}
	}

	existing, ok := c.memberships[uuid]
	if !ok {
		c.memberships[uuid] = incoming
		return nil
	}

	intersection := make(map[string]struct{}, len(incoming))
	for member := range incoming {
		if _, ok := existing[member]; ok {
			intersection[member] = struct{}{}
		}
	}
	if len(intersection) != len(incoming) {
		return newErrorf(ErrCodeContextConflict,
			"membership %q cannot be widened beyond its registered members", uuid)
	}
	c.memberships[uuid] = intersection
	return nil
}

// AddRange registers the range [lo, hi] for uuid. On first registration the
// range is stored as given; afterwards the stored range is replaced by the
// intersection, failing if the two ranges are disjoint.
func (c *Context) AddRange(uuid string, lo, hi int64) error {
	if lo > hi {
		return newErrorf(ErrCodeInvalidArgument,
			"range lower bound %d is greater than upper bound %d", lo, hi)
	}

	existing, ok := c.ranges[uuid]
	if !ok {
		c.ranges[uuid] = span{lo: lo, hi: hi}
		return nil
	}
	if lo > existing.hi || hi < existing.lo {
		return newErrorf(ErrCodeContextConflict,
			"range %q: [%d, %d] does not overlap the registered range [%d, %d]",
			uuid, lo, hi, existing.lo, existing.hi)
	}
	c.ranges[uuid] = span{lo: max(lo, existing.lo), hi: min(hi, existing.hi)}
	return nil
}

// RemoveMembership deletes the membership registered for uuid, reporting
// whether one was present.
func (c *Context) RemoveMembership(uuid string) bool {
	if _, ok := c.memberships[uuid]; !ok {
		return false
	}
	delete(c.memberships, uuid)
	return true
}

// RemoveRange deletes the range registered for uuid, reporting whether one
// was present.
func (c *Context) RemoveRange(uuid string) bool {
	if _, ok := c.ranges[uuid]; !ok {
		return false
	}
	delete(c.ranges, uuid)
	return true
}

// Membership returns a sorted copy of the members registered for uuid.
func (c *Context) Membership(uuid string) ([]string, bool) {
	members, ok := c.memberships[uuid]
	if !ok {
		return nil, false
	}
	return sortedKeys(members), true
}

// Range returns the range registered for uuid.
func (c *Context) Range(uuid string) (lo, hi int64, ok bool) {
	r, ok := c.ranges[uuid]
	return r.lo, r.hi, ok
}

// MembershipConstraints returns a copy of every registered membership,
// members sorted.
func (c *Context) MembershipConstraints() map[string][]string {
	out := make(map[string][]string, len(c.memberships))
	for uuid, members := range c.memberships {
		out[uuid] = sortedKeys(members)
	}
	return out
}

// RangeConstraints returns a copy of every registered range as [lo, hi]
// pairs.
func (c *Context) RangeConstraints() map[string][2]int64 {
	out := make(map[string][2]int64, len(c.ranges))
	for uuid, r := range c.ranges {
		out[uuid] = [2]int64{r.lo, r.hi}
	}
	return out
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() *Context {
	clone := &Context{
		memberships: make(map[string]map[string]struct{}, len(c.memberships)),
		ranges:      make(map[string]span, len(c.ranges)),
	}
	for uuid, members := range c.memberships {
		set := make(map[string]struct{}, len(members))
		for member := range members {
			set[member] = struct{}{}
		}
		clone.memberships[uuid] = set
	}
	for uuid, r := range c.ranges {
		clone.ranges[uuid] = r
	}
	return clone
}

// Equal reports whether two contexts register exactly the same constraints.
func (c *Context) Equal(o *Context) bool {
	if c == o {
		return true
	}
	if o == nil || len(c.memberships) != len(o.memberships) || len(c.ranges) != len(o.ranges) {
		return false
	}
	for uuid, members := range c.memberships {
		other, ok := o.memberships[uuid]
		if !ok || !stringSetsEqual(members, other) {
			return false
		}
	}
	for uuid, r := range c.ranges {
		if other, ok := o.ranges[uuid]; !ok || other != r {
			return false
		}
	}
	return true
}

// String renders the context for diagnostics, with keys and members sorted.
func (c *Context) String() string {
	var sb strings.Builder
	sb.WriteString("VerificationContext{ranges: {")

	rangeUUIDs := make([]string, 0, len(c.ranges))
	for uuid := range c.ranges {
		rangeUUIDs = append(rangeUUIDs, uuid)
	}
	sort.Strings(rangeUUIDs)
	for i, uuid := range rangeUUIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		r := c.ranges[uuid]
		fmt.Fprintf(&sb, "%s: [%d, %d]", uuid, r.lo, r.hi)
	}

	sb.WriteString("}, memberships: {")
	membershipUUIDs := make([]string, 0, len(c.memberships))
	for uuid := range c.memberships {
		membershipUUIDs = append(membershipUUIDs, uuid)
	}
	sort.Strings(membershipUUIDs)
	for i, uuid := range membershipUUIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %v", uuid, sortedKeys(c.memberships[uuid]))
	}
	sb.WriteString("}}")
	return sb.String()
}
