//
//  Copyright © Manetu Inc. All rights reserved.
//

package model

import (
	"encoding/json"
	"fmt"
)

// GroupMember is one entry of a list-based group membership: an
// issuer+client pair, an issuer+subject pair, or an issuer+client+subject
// triple. Every component a member carries must match the caller.
type GroupMember struct {
	iss    string
	client string
	sub    string
}

// NewGroupMemberClient returns a member pattern covering all subjects of a
// client.
func NewGroupMemberClient(iss, client string) GroupMember {
	return GroupMember{iss: iss, client: client}
}

// NewGroupMemberSubject returns a member pattern for one subject.
func NewGroupMemberSubject(iss, sub string) GroupMember {
	return GroupMember{iss: iss, sub: sub}
}

// Iss returns the issuer component.
func (m GroupMember) Iss() string { return m.iss }

// Client returns the client component, empty for subject members.
func (m GroupMember) Client() string { return m.client }

// Sub returns the subject component, empty for client members.
func (m GroupMember) Sub() string { return m.sub }

type groupMemberDoc struct {
	Iss    string `json:"iss"`
	Client string `json:"client,omitempty"`
	Sub    string `json:"sub,omitempty"`
}

// MarshalJSON renders the member document form.
func (m GroupMember) MarshalJSON() ([]byte, error) {
	if m.iss == "" {
		return nil, fmt.Errorf("group member: cannot marshal zero value")
	}
	return json.Marshal(groupMemberDoc{Iss: m.iss, Client: m.client, Sub: m.sub})
}

// UnmarshalJSON parses and validates a member document.
func (m *GroupMember) UnmarshalJSON(data []byte) error {
	var doc groupMemberDoc
	dec := newStrictDecoder(data)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("group member: %w", err)
	}

	if doc.Iss == "" {
		return fmt.Errorf("group member: missing 'iss'")
	}
	if doc.Client == "" && doc.Sub == "" {
		return fmt.Errorf("group member: requires 'client' or 'sub'")
	}

	*m = GroupMember{iss: doc.Iss, client: doc.Client, sub: doc.Sub}
	return nil
}

// Membership is the tagged group membership definition: a member list or a
// claim expression tree.
type Membership struct {
	members []GroupMember
	expr    *Expr
}

// NewMembershipList returns a list-based membership.
func NewMembershipList(members ...GroupMember) Membership {
	return Membership{members: members}
}

// NewMembershipExpr returns an expression-based membership.
func NewMembershipExpr(expr *Expr) Membership {
	return Membership{expr: expr}
}

// Members returns the member list, or nil for expression memberships.
func (m Membership) Members() []GroupMember { return m.members }

// Expr returns the expression tree, or nil for list memberships.
func (m Membership) Expr() *Expr { return m.expr }

type membershipDoc struct {
	Members []GroupMember   `json:"members,omitempty"`
	Expr    json.RawMessage `json:"expr,omitempty"`
}

// MarshalJSON renders the membership document form.
func (m Membership) MarshalJSON() ([]byte, error) {
	if m.expr != nil {
		raw, err := json.Marshal(m.expr)
		if err != nil {
			return nil, err
		}
		return json.Marshal(membershipDoc{Expr: raw})
	}
	if m.members != nil {
		return json.Marshal(membershipDoc{Members: m.members})
	}
	return nil, fmt.Errorf("membership: cannot marshal zero value")
}

// UnmarshalJSON parses and validates a membership document. Exactly one of
// 'members' or 'expr' must be present.
func (m *Membership) UnmarshalJSON(data []byte) error {
	var doc membershipDoc
	dec := newStrictDecoder(data)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("membership: %w", err)
	}

	switch {
	case doc.Members != nil && doc.Expr != nil:
		return fmt.Errorf("membership: 'members' and 'expr' are mutually exclusive")
	case doc.Members != nil:
		*m = Membership{members: doc.Members}
	case doc.Expr != nil:
		var expr Expr
		if err := json.Unmarshal(doc.Expr, &expr); err != nil {
			return err
		}
		*m = Membership{expr: &expr}
	default:
		return fmt.Errorf("membership: requires 'members' or 'expr'")
	}

	return nil
}
