package macaroon

import (
	"crypto/rand"
	"sort"
)

const randomAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns a random alphanumeric string of the given length,
// suitable as a credential secret or identifier.
func RandomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", wrapError(ErrCodeCryptoFailure, "read random bytes", err)
	}
	for i, b := range buf {
		buf[i] = randomAlphabet[int(b)%len(randomAlphabet)]
	}
	return string(buf), nil
}

// WrapContext mints a credential under a fresh random secret whose caveats
// reproduce the constraints registered in ctx: one membership caveat per
// registered membership and one range caveat per registered range. It returns the secret together with the
// credential, so the caller can hand out the credential and later verify it.
func WrapContext(ctx *Context, secretLength, idLength int, locations ...string) (string, *Macaroon, error) {
	secret, err := RandomString(secretLength)
	if err != nil {
		return "", nil, err
	}
	id, err := RandomString(idLength)
	if err != nil {
		return "", nil, err
	}
	m, err := Mint(secret, []byte(id), locations...)
	if err != nil {
		return "", nil, err
	}

	memberships := ctx.MembershipConstraints()
	membershipUUIDs := make([]string, 0, len(memberships))
	for uuid := range memberships {
		membershipUUIDs = append(membershipUUIDs, uuid)
	}
	sort.Strings(membershipUUIDs)
	for _, uuid := range membershipUUIDs {
		caveat, err := NewMembershipCaveat(uuid, memberships[uuid]...)
		if err != nil {
			return "", nil, err
		}
		if _, err := m.AddFirstPartyCaveat(caveat); err != nil {
			return "", nil, err
		}
	}

	ranges := ctx.RangeConstraints()
	rangeUUIDs := make([]string, 0, len(ranges))
	for uuid := range ranges {
		rangeUUIDs = append(rangeUUIDs, uuid)
	}
	sort.Strings(rangeUUIDs)
	for _, uuid := range rangeUUIDs {
		caveat, err := NewRangeCaveat(uuid, ranges[uuid][0], ranges[uuid][1])
		if err != nil {
			return "", nil, err
		}
		if _, err := m.AddFirstPartyCaveat(caveat); err != nil {
			return "", nil, err
		}
	}
	return secret, m, nil
}
