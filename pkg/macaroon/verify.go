package macaroon

import "slices"

// frame is one entry of the verifier's work stack: a credential whose MAC
// chain is being replayed, the signature recomputed so far, and the caveats
// still to check.
type frame struct {
	m         *Macaroon
	signature string
	remaining []Caveat
}

// Verify replays the credential's MAC chain under secret, checking every
// caveat against the initial context. It returns the set of contexts under
// which the credential is valid; an empty result means the credential does
// not verify. The initial context is cloned on entry and never mutated.
//
// First-party predicates partition the surviving contexts; third-party
// caveats branch over the bound discharges, and the results of all
// successful branches are unioned. Caveat failures, missing discharges,
// signature mismatches and crypto errors all yield an empty result rather
// than a distinguished error: nothing more specific is safe to report.
func (m *Macaroon) Verify(secret string, initial *Context) []*Context {
	sig, err := m.scheme.MAC(secret, m.id)
	if err != nil {
		return nil
	}
	frames := []*frame{{m: m, signature: sig, remaining: slices.Clone(m.caveats)}}
	return m.verifyFrames(frames,
		map[*Macaroon]struct{}{},
		map[*Macaroon]struct{}{},
		[]*Context{initial.Clone()})
}

// verifyFrames drains the work stack for one branch. verified holds the
// discharges already consumed on this branch (a structurally repeated
// third-party caveat is not re-verified, which also breaks cycles); invalid
// holds discharges known to fail, and only ever grows.
func (m *Macaroon) verifyFrames(frames []*frame, verified, invalid map[*Macaroon]struct{}, contexts []*Context) []*Context {
	for len(frames) > 0 {
		// No context left for the remaining caveats to hold in.
		if len(contexts) == 0 {
			break
		}
		top := frames[0]

		if len(top.remaining) == 0 {
			// Signature closure: the recomputed signature of the primary
			// credential is compared directly; a discharge's stored
			// signature was transformed at bind time, so the recomputed
			// one is bound before comparison.
			if !m.frameCloses(top) {
				return nil
			}
			frames = frames[1:]
			continue
		}

		caveat := top.remaining[0]
		top.remaining = top.remaining[1:]

		switch c := caveat.(type) {
		case *FirstPartyCaveat:
			contexts = filterContexts(c, contexts)
			sig, err := m.scheme.MAC(top.signature, c.id)
			if err != nil {
				return nil
			}
			top.signature = sig
		case *ThirdPartyCaveat:
			return m.verifyThirdParty(c, frames, verified, invalid, contexts)
		default:
			panic(newErrorf(ErrCodeUnknownCaveatKind, "caveat type %T", caveat))
		}
	}
	return contexts
}

func (m *Macaroon) frameCloses(f *frame) bool {
	if f.m == m {
		return f.signature == m.signature
	}
	return m.scheme.BindForRequest(f.signature) == f.m.signature
}

// filterContexts keeps the contexts in which the first-party caveat holds.
// Each predicate runs against a clone, so a failing predicate cannot leak a
// partial narrowing into a surviving context.
func filterContexts(c *FirstPartyCaveat, contexts []*Context) []*Context {
	var out []*Context
	for _, ctx := range contexts {
		clone := ctx.Clone()
		if c.Verify(clone) == nil {
			out = append(out, clone)
		}
	}
	return out
}

// verifyThirdParty resolves one third-party caveat. The current frame's
// signature is advanced past the caveat, the caveat's root key is recovered
// from the pre-update signature, and every not-yet-invalidated bound
// discharge is tried as its own sub-branch. The union of the surviving
// sub-branch contexts is the branch result.
func (m *Macaroon) verifyThirdParty(c *ThirdPartyCaveat, frames []*frame, verified, invalid map[*Macaroon]struct{}, contexts []*Context) []*Context {
	top := frames[0]
	rootKey, err := m.scheme.Decrypt(top.signature, c.rootOrVerificationKey)
	if err != nil {
		return nil
	}
	sig, err := m.scheme.MAC(top.signature, thirdPartyMACInput(c))
	if err != nil {
		return nil
	}
	top.signature = sig

	var candidates []*Macaroon
	for _, d := range m.bound[string(c.id)] {
		if _, bad := invalid[d]; !bad {
			candidates = append(candidates, d)
		}
	}

	// A structurally identical caveat was discharged earlier on this branch;
	// its constraints are already part of the contexts.
	for _, d := range candidates {
		if _, done := verified[d]; done {
			return m.verifyFrames(frames, verified, invalid, contexts)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var results []*Context
	for _, discharge := range candidates {
		dischargeSig, err := m.scheme.MAC(rootKey, discharge.id)
		if err != nil {
			invalid[discharge] = struct{}{}
			continue
		}

		// Each candidate gets its own copies of the stack, the verified
		// set and the contexts: a failed discharge must roll back cleanly,
		// and different discharges may yield different contexts.
		branchFrames := make([]*frame, 0, len(frames)+1)
		branchFrames = append(branchFrames, &frame{
			m:         discharge,
			signature: dischargeSig,
			remaining: slices.Clone(discharge.caveats),
		})
		for _, f := range frames {
			branchFrames = append(branchFrames, &frame{
				m:         f.m,
				signature: f.signature,
				remaining: slices.Clone(f.remaining),
			})
		}

		branchVerified := make(map[*Macaroon]struct{}, len(verified)+1)
		for d := range verified {
			branchVerified[d] = struct{}{}
		}
		branchVerified[discharge] = struct{}{}

		branchInvalid := make(map[*Macaroon]struct{}, len(invalid))
		for d := range invalid {
			branchInvalid[d] = struct{}{}
		}

		branchContexts := make([]*Context, len(contexts))
		for i, ctx := range contexts {
			branchContexts[i] = ctx.Clone()
		}

		sub := m.verifyFrames(branchFrames, branchVerified, branchInvalid, branchContexts)
		if len(sub) == 0 {
			// A discharge that failed here also fails in any equally or
			// more constrained context; never try it again on this branch.
			invalid[discharge] = struct{}{}
			continue
		}
		results = unionContexts(results, sub)
	}
	return results
}

// unionContexts merges two context sets, deduplicating structurally.
func unionContexts(into, from []*Context) []*Context {
outer:
	for _, ctx := range from {
		for _, existing := range into {
			if existing.Equal(ctx) {
				continue outer
			}
		}
		into = append(into, ctx)
	}
	return into
}
