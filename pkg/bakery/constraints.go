package bakery

import (
	"time"

	"github.com/relves/macaroons/pkg/macaroon"
)

// Constraint UUIDs shared between the attenuation helpers below and the
// verification contexts callers build. Using fixed UUIDs lets independently
// minted caveats narrow the same constraint.
const (
	TimeUUID        = "TIME"
	PermissionsUUID = "ACCESS"
	LocationUUID    = "LOCATION"
)

// Constraint adds a layer of indirection over caveats: each one takes a
// credential and tightens its restrictions.
type Constraint func(*macaroon.Macaroon) error

// AddConstraints returns a new derived credential with every constraint
// applied. The input credential is not modified.
func AddConstraints(m *macaroon.Macaroon, constraints ...Constraint) (*macaroon.Macaroon, error) {
	derived := m.Clone()
	for _, constraint := range constraints {
		if err := constraint(derived); err != nil {
			return nil, err
		}
	}
	return derived, nil
}

// TimeoutConstraint restricts the credential's lifetime to the given number
// of seconds from now: a range caveat over TimeUUID that only overlaps
// verification times inside the window.
func TimeoutConstraint(now time.Time, seconds int64) Constraint {
	return func(m *macaroon.Macaroon) error {
		caveat, err := macaroon.NewRangeCaveat(TimeUUID, now.Unix(), now.Unix()+seconds)
		if err != nil {
			return err
		}
		_, err = m.AddFirstPartyCaveat(caveat)
		return err
	}
}

// PermissionsConstraint restricts the credential to the given permissions:
// a membership caveat over PermissionsUUID.
func PermissionsConstraint(permissions ...string) Constraint {
	return func(m *macaroon.Macaroon) error {
		caveat, err := macaroon.NewMembershipCaveat(PermissionsUUID, permissions...)
		if err != nil {
			return err
		}
		_, err = m.AddFirstPartyCaveat(caveat)
		return err
	}
}

// LocationConstraint locks the credential to the given target locations:
// a membership caveat over LocationUUID. Unlike the advisory location
// hints, this enters the signature chain and narrows the contexts the
// credential is valid in.
func LocationConstraint(locations ...string) Constraint {
	return func(m *macaroon.Macaroon) error {
		caveat, err := macaroon.NewMembershipCaveat(LocationUUID, locations...)
		if err != nil {
			return err
		}
		_, err = m.AddFirstPartyCaveat(caveat)
		return err
	}
}

// CaveatConstraint appends an arbitrary first-party caveat.
func CaveatConstraint(caveat *macaroon.FirstPartyCaveat) Constraint {
	return func(m *macaroon.Macaroon) error {
		_, err := m.AddFirstPartyCaveat(caveat)
		return err
	}
}

// VerificationTimeContext returns a context pinning TimeUUID to the instant
// of verification, so timeout caveats can narrow against it.
func VerificationTimeContext(now time.Time) (*macaroon.Context, error) {
	ctx := macaroon.NewContext()
	if err := ctx.AddRange(TimeUUID, now.Unix(), now.Unix()); err != nil {
		return nil, err
	}
	return ctx, nil
}
