//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"time"

	"github.com/bento-platform/authz/pkg/core/idp"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/bento-platform/authz/pkg/core/permissions"
	"github.com/bento-platform/authz/pkg/core/store"
)

// ResolvedSubject is the concrete caller identity an evaluation runs
// against: either the anonymous marker, or the verified issuer/subject/
// client triple plus the full claim set.
type ResolvedSubject struct {
	Anonymous bool
	Iss       string
	Sub       string
	Azp       string
	Claims    map[string]interface{}
}

// ResolveSubject maps a verified claim set (or nil for no token) onto a
// ResolvedSubject. This is a pure mapping; no I/O.
func ResolveSubject(td *idp.TokenData) ResolvedSubject {
	if td == nil {
		return ResolvedSubject{Anonymous: true}
	}
	return ResolvedSubject{
		Iss:    td.Iss,
		Sub:    td.Sub,
		Azp:    td.Azp,
		Claims: td.Claims,
	}
}

// subjectMatches tests whether a grant's subject pattern applies to the
// resolved subject, expanding group references against the snapshot.
//
// A dangling or expired group reference makes the pattern not match; the
// caller logs and continues per the malformed-grant policy.
func subjectMatches(snap *store.Snapshot, pattern model.Subject, rs ResolvedSubject, now time.Time) (bool, error) {
	switch pattern.Kind() {
	case model.SubjectEveryone:
		return true, nil
	case model.SubjectAnonymous:
		return rs.Anonymous, nil
	case model.SubjectIssuerClient:
		return !rs.Anonymous && pattern.Iss() == rs.Iss && pattern.Client() == rs.Azp, nil
	case model.SubjectIssuerSubject:
		return !rs.Anonymous && pattern.Iss() == rs.Iss && pattern.Sub() == rs.Sub, nil
	case model.SubjectIssuerClientSubject:
		return !rs.Anonymous &&
			pattern.Iss() == rs.Iss &&
			pattern.Client() == rs.Azp &&
			pattern.Sub() == rs.Sub, nil
	case model.SubjectGroup:
		group, ok := snap.Groups[pattern.GroupID()]
		if !ok {
			return false, errDanglingGroup(pattern.GroupID())
		}
		if !group.Active(now) {
			return false, nil
		}
		return subjectInGroup(group, rs), nil
	default:
		return false, errMalformedSubject(pattern)
	}
}

// subjectInGroup evaluates a group's membership against the resolved
// subject. Anonymous callers are never group members.
func subjectInGroup(group model.Group, rs ResolvedSubject) bool {
	if rs.Anonymous {
		return false
	}

	if members := group.Membership.Members(); members != nil {
		for _, m := range members {
			if m.Iss() != rs.Iss {
				continue
			}
			if m.Client() != "" && m.Client() != rs.Azp {
				continue
			}
			if m.Sub() != "" && m.Sub() != rs.Sub {
				continue
			}
			return true
		}
		return false
	}

	if expr := group.Membership.Expr(); expr != nil {
		return expr.Evaluate(rs.Claims)
	}

	return false
}

// matchingGrants filters the snapshot down to the grants applicable to one
// (subject, requested resource) pair: active, subject-matching,
// resource-covering, and registry-valid. Grants that fail to evaluate
// (dangling group references) are logged here and skipped, never failing
// the evaluation.
func matchingGrants(snap *store.Snapshot, rs ResolvedSubject, requested model.Resource, now time.Time) []model.Grant {
	var out []model.Grant
	for _, g := range snap.Grants {
		if !g.Active(now) {
			continue
		}

		// Defensive registry check: a grant below its permission's minimum
		// specificity should have been rejected at write time; treat it as
		// inactive if it somehow persisted.
		if p, ok := permissions.Lookup(g.Permission); !ok || !p.ValidForResource(g.Resource) {
			logger.Warnf(agent, "evaluate", "ignoring grant %d with invalid registry binding", g.ID)
			continue
		}

		if !g.Resource.Covers(requested) {
			continue
		}

		ok, err := subjectMatches(snap, g.Subject, rs, now)
		if err != nil {
			logger.Errorf(agent, "evaluate", "ignoring unmatchable grant %d: %+v", g.ID, err)
			continue
		}
		if ok {
			out = append(out, g)
		}
	}
	return out
}

// decideCell computes the allow/deny outcome for one (resource, permission)
// cell from the grants already matched to the resource, applying the
// cascade:
//
//   - the most specific negation of the permission sets a floor; a positive
//     grant wins only from a strictly more specific resource pattern
//   - equal specificity with opposite polarity denies
//   - no matching positive grant denies
//
// Positive grants confer their gives closure; a negation denies exactly the
// permission it names.
//
// The returned ids are the positive grants that carried the allow.
func decideCell(matched []model.Grant, permission string) (bool, []int64) {
	maxNeg := -1
	for _, g := range matched {
		if g.Negated && g.Permission == permission {
			if r := g.Resource.CascadeRank(); r > maxNeg {
				maxNeg = r
			}
		}
	}

	var winners []int64
	for _, g := range matched {
		if g.Negated || !permissions.Confers(g.Permission, permission) {
			continue
		}
		if g.Resource.CascadeRank() > maxNeg {
			winners = append(winners, g.ID)
		}
	}

	return len(winners) > 0, winners
}

// permissionsForCell computes the full set of permissions held on one
// resource: every registry permission whose cell resolves to allow.
func permissionsForCell(matched []model.Grant) []string {
	var out []string
	for _, p := range permissions.All() {
		if ok, _ := decideCell(matched, p.ID()); ok {
			out = append(out, p.ID())
		}
	}
	return out
}
