//
//  Copyright © Manetu Inc. All rights reserved.
//

package model

import (
	"encoding/json"
	"time"
)

// Grant binds a subject pattern and a resource pattern to a permission.
//
// Grants are immutable once created, apart from deletion. A negated grant is
// an explicit denial which overrides less-specific positive grants during
// cascade evaluation.
type Grant struct {
	ID         int64           `json:"id,omitempty"`
	Subject    Subject         `json:"subject"`
	Resource   Resource        `json:"resource"`
	Permission string          `json:"permission"`
	Negated    bool            `json:"negated"`
	Extra      json.RawMessage `json:"extra"`
	Created    time.Time       `json:"created,omitempty"`
	Expiry     *time.Time      `json:"expiry"`
}

// Active reports whether the grant participates in evaluation at the given
// instant. The expiry bound is exclusive: a grant whose expiry equals now
// is already inactive. Creation is stamped by the store at insert, so only
// the expiry side of the window needs checking.
func (g Grant) Active(now time.Time) bool {
	return g.Expiry == nil || now.Before(*g.Expiry)
}

// SameIdentity reports whether two grants collide under the uniqueness rule:
// (subject, resource, permission, expiry) compared structurally. Expiry is
// part of the identity so a grant can be re-issued after its predecessor
// expires.
func (g Grant) SameIdentity(o Grant) bool {
	if !g.Subject.Equal(o.Subject) || !g.Resource.Equal(o.Resource) || g.Permission != o.Permission {
		return false
	}
	switch {
	case g.Expiry == nil && o.Expiry == nil:
		return true
	case g.Expiry == nil || o.Expiry == nil:
		return false
	default:
		return g.Expiry.Equal(*o.Expiry)
	}
}

// Group is a named, reusable subject pattern defined either as a member list
// or as a claim expression. Groups may be renamed or have their membership
// edited; grants referencing a group hold it by id.
type Group struct {
	ID         int64      `json:"id,omitempty"`
	Name       string     `json:"name"`
	Membership Membership `json:"membership"`
	Created    time.Time  `json:"created,omitempty"`
	Expiry     *time.Time `json:"expiry"`
}

// Active reports whether the group participates in evaluation at the given
// instant. Expired groups are invisible to evaluation but retained until
// explicitly deleted.
func (g Group) Active(now time.Time) bool {
	return g.Expiry == nil || now.Before(*g.Expiry)
}
