package macaroon_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/macaroons/pkg/macaroon"
)

func TestRangeCaveat_IdentifierFormat(t *testing.T) {
	caveat, err := macaroon.NewRangeCaveat("TIME", 0, 100)
	require.NoError(t, err)

	// The identifier participates in the MAC chain, so it must be byte-exact.
	assert.Equal(t, "TIME ∈ [0, 100]", string(caveat.CaveatID()))

	caveat, err = macaroon.NewRangeCaveat("TIME", -100, 0)
	require.NoError(t, err)
	assert.Equal(t, "TIME ∈ [-100, 0]", string(caveat.CaveatID()))
}

func TestRangeCaveat_InvertedBoundsRejected(t *testing.T) {
	_, err := macaroon.NewRangeCaveat("TIME", 100, 0)
	require.Error(t, err)
	assert.True(t, macaroon.IsInvalidArgument(err))
}

func TestRangeCaveat_PredicateNarrowsContext(t *testing.T) {
	caveat, err := macaroon.NewRangeCaveat("TIME", 0, 100)
	require.NoError(t, err)

	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddRange("TIME", 50, 200))

	require.NoError(t, caveat.Verify(ctx))

	lo, hi, ok := ctx.Range("TIME")
	require.True(t, ok)
	assert.EqualValues(t, 50, lo)
	assert.EqualValues(t, 100, hi)
}

func TestRangeCaveat_PredicatePropagatesConflict(t *testing.T) {
	caveat, err := macaroon.NewRangeCaveat("TIME", 5, 10)
	require.NoError(t, err)

	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddRange("TIME", 11, 15))

	err = caveat.Verify(ctx)
	require.Error(t, err)
	assert.True(t, macaroon.IsContextConflict(err))
}

func TestParseRangeCaveatID(t *testing.T) {
	uuid, lo, hi, err := macaroon.ParseRangeCaveatID([]byte("TIME ∈ [-5, 42]"))
	require.NoError(t, err)
	assert.Equal(t, "TIME", uuid)
	assert.EqualValues(t, -5, lo)
	assert.EqualValues(t, 42, hi)

	_, _, _, err = macaroon.ParseRangeCaveatID([]byte("not a range caveat"))
	require.Error(t, err)
	assert.True(t, macaroon.IsInvalidArgument(err))
}

func TestMembershipCaveat_IdentifierFormat(t *testing.T) {
	caveat, err := macaroon.NewMembershipCaveat("ACCESS", "write", "read")
	require.NoError(t, err)

	// Members are sorted so that the identifier is deterministic.
	assert.Equal(t, "ACCESS ∈ [read, write]", string(caveat.CaveatID()))
}

func TestMembershipCaveat_SeparatorInMemberRejected(t *testing.T) {
	_, err := macaroon.NewMembershipCaveat("ACCESS", "read, write")
	require.Error(t, err)
	assert.True(t, macaroon.IsInvalidArgument(err))
}

func TestMembershipCaveat_PredicateNarrowsContext(t *testing.T) {
	caveat, err := macaroon.NewMembershipCaveat("ACCESS", "read")
	require.NoError(t, err)

	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddMembership("ACCESS", "read", "write"))

	require.NoError(t, caveat.Verify(ctx))

	members, ok := ctx.Membership("ACCESS")
	require.True(t, ok)
	assert.Equal(t, []string{"read"}, members)
}

func TestMembershipCaveat_PredicatePropagatesConflict(t *testing.T) {
	caveat, err := macaroon.NewMembershipCaveat("ACCESS", "admin")
	require.NoError(t, err)

	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddMembership("ACCESS", "read"))

	err = caveat.Verify(ctx)
	require.Error(t, err)
	assert.True(t, macaroon.IsContextConflict(err))
}

func TestParseMembershipCaveatID(t *testing.T) {
	uuid, members, err := macaroon.ParseMembershipCaveatID([]byte("ACCESS ∈ [read, write]"))
	require.NoError(t, err)
	assert.Equal(t, "ACCESS", uuid)
	assert.Equal(t, []string{"read", "write"}, members)

	_, _, err = macaroon.ParseMembershipCaveatID([]byte("garbage"))
	require.Error(t, err)
	assert.True(t, macaroon.IsInvalidArgument(err))
}

func TestFirstPartyCaveat_CloneSharesPredicate(t *testing.T) {
	invocations := 0
	caveat := macaroon.NewFirstPartyCaveat([]byte("app-defined"), func(*macaroon.Context) error {
		invocations++
		return nil
	})

	clone := caveat.Clone()
	assert.Equal(t, caveat.CaveatID(), clone.CaveatID())

	require.NoError(t, clone.Verify(macaroon.NewContext()))
	assert.Equal(t, 1, invocations)
}

func TestThirdPartyCaveat_Locations(t *testing.T) {
	caveat := macaroon.NewThirdPartyCaveat("root", []byte("tp"), "b.example", "a.example")

	assert.Equal(t, []string{"a.example", "b.example"}, caveat.Locations())
	assert.True(t, caveat.AddLocation("c.example"))
	assert.False(t, caveat.AddLocation("c.example"))
	assert.True(t, caveat.RemoveLocation("a.example"))
	assert.False(t, caveat.RemoveLocation("a.example"))
	assert.Equal(t, []string{"b.example", "c.example"}, caveat.Locations())
}

func TestThirdPartyCaveat_CloneAndEqual(t *testing.T) {
	caveat := macaroon.NewThirdPartyCaveat("root", []byte("tp"), "a.example")
	clone := caveat.Clone()

	require.True(t, caveat.Equal(clone))

	clone.AddLocation("b.example")
	assert.False(t, caveat.Equal(clone))

	other := macaroon.NewThirdPartyCaveat("other-root", []byte("tp"), "a.example")
	assert.False(t, caveat.Equal(other))
}
