package macaroon_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/macaroons/pkg/macaroon"
)

func TestContext_AddMembership_FirstRegistrationStores(t *testing.T) {
	ctx := macaroon.NewContext()

	require.NoError(t, ctx.AddMembership("ACCESS", "read", "write"))

	members, ok := ctx.Membership("ACCESS")
	require.True(t, ok)
	assert.Equal(t, []string{"read", "write"}, members)
}

func TestContext_AddMembership_NarrowsToIntersection(t *testing.T) {
	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddMembership("ACCESS", "read", "write", "admin"))

	require.NoError(t, ctx.AddMembership("ACCESS", "read", "write"))

	members, ok := ctx.Membership("ACCESS")
	require.True(t, ok)
	assert.Equal(t, []string{"read", "write"}, members)
}

func TestContext_AddMembership_WideningFails(t *testing.T) {
	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddMembership("ACCESS", "read"))

	err := ctx.AddMembership("ACCESS", "read", "write")
	require.Error(t, err)
	assert.True(t, macaroon.IsContextConflict(err))

	// The registered membership is untouched by the failed addition.
	members, ok := ctx.Membership("ACCESS")
	require.True(t, ok)
	assert.Equal(t, []string{"read"}, members)
}

func TestContext_AddRange_FirstRegistrationStores(t *testing.T) {
	ctx := macaroon.NewContext()

	require.NoError(t, ctx.AddRange("TIME", 0, 100))

	lo, hi, ok := ctx.Range("TIME")
	require.True(t, ok)
	assert.EqualValues(t, 0, lo)
	assert.EqualValues(t, 100, hi)
}

func TestContext_AddRange_Intersects(t *testing.T) {
	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddRange("TIME", 0, 100))

	require.NoError(t, ctx.AddRange("TIME", 50, 200))

	lo, hi, ok := ctx.Range("TIME")
	require.True(t, ok)
	assert.EqualValues(t, 50, lo)
	assert.EqualValues(t, 100, hi)
}

func TestContext_AddRange_DisjointFails(t *testing.T) {
	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddRange("TIME", 11, 15))

	err := ctx.AddRange("TIME", 5, 10)
	require.Error(t, err)
	assert.True(t, macaroon.IsContextConflict(err))

	lo, hi, ok := ctx.Range("TIME")
	require.True(t, ok)
	assert.EqualValues(t, 11, lo)
	assert.EqualValues(t, 15, hi)
}

func TestContext_AddRange_InvertedBoundsRejected(t *testing.T) {
	ctx := macaroon.NewContext()

	err := ctx.AddRange("TIME", 10, 5)
	require.Error(t, err)
	assert.True(t, macaroon.IsInvalidArgument(err))
}

func TestContext_Remove(t *testing.T) {
	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddMembership("ACCESS", "read"))
	require.NoError(t, ctx.AddRange("TIME", 0, 100))

	assert.True(t, ctx.RemoveMembership("ACCESS"))
	assert.False(t, ctx.RemoveMembership("ACCESS"))
	assert.True(t, ctx.RemoveRange("TIME"))
	assert.False(t, ctx.RemoveRange("TIME"))

	_, ok := ctx.Membership("ACCESS")
	assert.False(t, ok)
	_, _, ok = ctx.Range("TIME")
	assert.False(t, ok)
}

func TestContext_AccessorsReturnCopies(t *testing.T) {
	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddMembership("ACCESS", "read"))
	require.NoError(t, ctx.AddRange("TIME", 0, 100))

	memberships := ctx.MembershipConstraints()
	memberships["ACCESS"] = append(memberships["ACCESS"], "write")
	members, ok := ctx.Membership("ACCESS")
	require.True(t, ok)
	assert.Equal(t, []string{"read"}, members)

	ranges := ctx.RangeConstraints()
	ranges["TIME"] = [2]int64{-1, 1}
	lo, hi, ok := ctx.Range("TIME")
	require.True(t, ok)
	assert.EqualValues(t, 0, lo)
	assert.EqualValues(t, 100, hi)
}

func TestContext_CloneIsIndependent(t *testing.T) {
	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddMembership("ACCESS", "read", "write"))
	require.NoError(t, ctx.AddRange("TIME", 0, 100))

	clone := ctx.Clone()
	require.True(t, ctx.Equal(clone))

	require.NoError(t, clone.AddMembership("ACCESS", "read"))
	require.NoError(t, clone.AddRange("TIME", 0, 50))

	members, ok := ctx.Membership("ACCESS")
	require.True(t, ok)
	assert.Equal(t, []string{"read", "write"}, members)
	_, hi, ok := ctx.Range("TIME")
	require.True(t, ok)
	assert.EqualValues(t, 100, hi)
	assert.False(t, ctx.Equal(clone))
}

func TestContext_Equal(t *testing.T) {
	a := macaroon.NewContext()
	b := macaroon.NewContext()
	assert.True(t, a.Equal(b))

	require.NoError(t, a.AddRange("TIME", 0, 100))
	assert.False(t, a.Equal(b))

	require.NoError(t, b.AddRange("TIME", 0, 100))
	assert.True(t, a.Equal(b))

	require.NoError(t, a.AddMembership("ACCESS", "read"))
	require.NoError(t, b.AddMembership("ACCESS", "write"))
	assert.False(t, a.Equal(b))
}

func TestContext_String(t *testing.T) {
	ctx := macaroon.NewContext()
	require.NoError(t, ctx.AddRange("TIME", 0, 100))
	require.NoError(t, ctx.AddMembership("ACCESS", "write", "read"))

	assert.Equal(t,
		"VerificationContext{ranges: {TIME: [0, 100]}, memberships: {ACCESS: [read write]}}",
		ctx.String())
}
