package bakery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/macaroons/pkg/bakery"
	"github.com/relves/macaroons/pkg/macaroon"
)

func newService(t *testing.T, opts ...bakery.Option) *bakery.Service {
	t.Helper()
	svc, err := bakery.NewService(bakery.NewMemStore(), opts...)
	require.NoError(t, err)
	return svc
}

func TestService_DischargeEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, bakery.WithLocation("d.example"))

	// Target service mints a credential with a third-party obligation and
	// shares the root key with the discharge service.
	primary, err := macaroon.Mint("target-secret", []byte("session-42"), "target.example")
	require.NoError(t, err)
	_, err = primary.AddThirdPartyCaveat(macaroon.NewThirdPartyCaveat("root-k", []byte("user-is-adult"), "d.example"))
	require.NoError(t, err)
	require.NoError(t, svc.ExpectDischarge(ctx, []byte("user-is-adult"), "root-k", ""))

	// Client asks the discharge service for the missing discharges.
	needed := primary.ThirdPartyCaveatsFor("d.example")
	require.Len(t, needed, 1)
	discharge, err := svc.Discharge(ctx, needed[0].CaveatID())
	require.NoError(t, err)
	require.NoError(t, primary.BindForRequest(discharge))

	results := primary.Verify("target-secret", macaroon.NewContext())
	require.Len(t, results, 1)
	assert.True(t, results[0].Equal(macaroon.NewContext()))
}

func TestService_DischargeUnknownCaveatFails(t *testing.T) {
	svc := newService(t)

	_, err := svc.Discharge(context.Background(), []byte("never-registered"))
	require.ErrorIs(t, err, bakery.ErrRootKeyNotFound)
}

func TestService_ConditionWithoutCheckerRefused(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	require.NoError(t, svc.ExpectDischarge(ctx, []byte("tp"), "root-k", "is-member"))

	_, err := svc.Discharge(ctx, []byte("tp"))
	require.ErrorIs(t, err, bakery.ErrConditionNotRecognized)
}

func TestService_CheckerDeniesDischarge(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	require.NoError(t, svc.ExpectDischarge(ctx, []byte("tp"), "root-k", "is-member"))

	denied := errors.New("not a member")
	svc.RegisterChecker("is-member", func(context.Context, []byte, string) ([]*macaroon.FirstPartyCaveat, error) {
		return nil, denied
	})

	_, err := svc.Discharge(ctx, []byte("tp"))
	require.ErrorIs(t, err, denied)
}

func TestService_CheckerCaveatsAttenuateDischarge(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, bakery.WithLocation("d.example"))
	require.NoError(t, svc.ExpectDischarge(ctx, []byte("tp"), "root-k", "scoped"))

	svc.RegisterChecker("scoped", func(context.Context, []byte, string) ([]*macaroon.FirstPartyCaveat, error) {
		caveat, err := macaroon.NewMembershipCaveat("ACCESS", "read")
		if err != nil {
			return nil, err
		}
		return []*macaroon.FirstPartyCaveat{caveat}, nil
	})

	primary, err := macaroon.Mint("target-secret", []byte("session"), "target.example")
	require.NoError(t, err)
	_, err = primary.AddThirdPartyCaveat(macaroon.NewThirdPartyCaveat("root-k", []byte("tp"), "d.example"))
	require.NoError(t, err)

	discharge, err := svc.Discharge(ctx, []byte("tp"))
	require.NoError(t, err)
	require.Len(t, discharge.Caveats(), 1)
	require.NoError(t, primary.BindForRequest(discharge))

	results := primary.Verify("target-secret", macaroon.NewContext())
	want := macaroon.NewContext()
	require.NoError(t, want.AddMembership("ACCESS", "read"))
	require.Len(t, results, 1)
	assert.True(t, results[0].Equal(want))
}

func TestService_DischargeCacheReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	require.NoError(t, svc.ExpectDischarge(ctx, []byte("tp"), "root-k", ""))

	first, err := svc.Discharge(ctx, []byte("tp"))
	require.NoError(t, err)
	second, err := svc.Discharge(ctx, []byte("tp"))
	require.NoError(t, err)

	require.True(t, first.Equal(second))
	assert.NotSame(t, first, second)

	// Attenuating one copy must not leak into later discharges.
	caveat, err := macaroon.NewMembershipCaveat("ACCESS", "read")
	require.NoError(t, err)
	_, err = first.AddFirstPartyCaveat(caveat)
	require.NoError(t, err)
	third, err := svc.Discharge(ctx, []byte("tp"))
	require.NoError(t, err)
	assert.True(t, second.Equal(third))
}

func TestService_ReRegistrationInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	require.NoError(t, svc.ExpectDischarge(ctx, []byte("tp"), "old-key", ""))

	old, err := svc.Discharge(ctx, []byte("tp"))
	require.NoError(t, err)

	require.NoError(t, svc.ExpectDischarge(ctx, []byte("tp"), "new-key", ""))
	fresh, err := svc.Discharge(ctx, []byte("tp"))
	require.NoError(t, err)

	assert.False(t, old.Equal(fresh), "discharge must be minted under the new root key")
}
