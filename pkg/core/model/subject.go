//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package model defines the core data structures for authorization
// evaluation: subject patterns, resource patterns, grants, groups, and
// group membership expressions.
//
// Subject and resource patterns are tagged variants stored as
// self-describing JSON documents. The discriminator is the set of fields
// present; unknown or ambiguous documents are rejected at the store
// boundary so internal code can pattern-match on the kind without
// revalidating.
package model

import (
	"encoding/json"
	"fmt"
)

// SubjectKind discriminates the subject pattern variants.
type SubjectKind int

// Subject pattern kinds.
const (
	// SubjectEveryone matches all callers, including anonymous ones.
	SubjectEveryone SubjectKind = iota + 1
	// SubjectAnonymous matches only callers with no verified token.
	SubjectAnonymous
	// SubjectGroup matches members of the referenced group at evaluation time.
	SubjectGroup
	// SubjectIssuerClient matches any subject from an (iss, azp) pair.
	SubjectIssuerClient
	// SubjectIssuerSubject matches an (iss, sub) pair across clients.
	SubjectIssuerSubject
	// SubjectIssuerClientSubject matches the exact (iss, azp, sub) triple.
	SubjectIssuerClientSubject
)

// Subject is a tagged subject pattern. The zero value is invalid; construct
// values with the NewSubject* constructors or by unmarshalling a stored
// document.
type Subject struct {
	kind   SubjectKind
	group  int64
	iss    string
	client string
	sub    string
}

// NewSubjectEveryone returns the pattern matching all callers.
func NewSubjectEveryone() Subject {
	return Subject{kind: SubjectEveryone}
}

// NewSubjectAnonymous returns the pattern matching unauthenticated callers.
func NewSubjectAnonymous() Subject {
	return Subject{kind: SubjectAnonymous}
}

// NewSubjectGroup returns a pattern referencing a stored group by id.
func NewSubjectGroup(groupID int64) Subject {
	return Subject{kind: SubjectGroup, group: groupID}
}

// NewSubjectIssuerClient returns a pattern matching all subjects of a client.
func NewSubjectIssuerClient(iss, client string) Subject {
	return Subject{kind: SubjectIssuerClient, iss: iss, client: client}
}

// NewSubjectIssuerSubject returns a pattern matching a subject across clients.
func NewSubjectIssuerSubject(iss, sub string) Subject {
	return Subject{kind: SubjectIssuerSubject, iss: iss, sub: sub}
}

// NewSubjectIssuerClientSubject returns the exact-triple pattern.
func NewSubjectIssuerClientSubject(iss, client, sub string) Subject {
	return Subject{kind: SubjectIssuerClientSubject, iss: iss, client: client, sub: sub}
}

// Kind returns the pattern discriminator.
func (s Subject) Kind() SubjectKind { return s.kind }

// GroupID returns the referenced group id; only meaningful for SubjectGroup.
func (s Subject) GroupID() int64 { return s.group }

// Iss returns the issuer component, if any.
func (s Subject) Iss() string { return s.iss }

// Client returns the client (azp) component, if any.
func (s Subject) Client() string { return s.client }

// Sub returns the subject component, if any.
func (s Subject) Sub() string { return s.sub }

// subjectDoc is the wire/storage representation.
type subjectDoc struct {
	Everyone  bool   `json:"everyone,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
	Group     *int64 `json:"group,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Client    string `json:"client,omitempty"`
	Sub       string `json:"sub,omitempty"`
}

// MarshalJSON renders the self-describing document form.
func (s Subject) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case SubjectEveryone:
		return json.Marshal(subjectDoc{Everyone: true})
	case SubjectAnonymous:
		return json.Marshal(subjectDoc{Anonymous: true})
	case SubjectGroup:
		g := s.group
		return json.Marshal(subjectDoc{Group: &g})
	case SubjectIssuerClient:
		return json.Marshal(subjectDoc{Iss: s.iss, Client: s.client})
	case SubjectIssuerSubject:
		return json.Marshal(subjectDoc{Iss: s.iss, Sub: s.sub})
	case SubjectIssuerClientSubject:
		return json.Marshal(subjectDoc{Iss: s.iss, Client: s.client, Sub: s.sub})
	default:
		return nil, fmt.Errorf("subject: cannot marshal zero value")
	}
}

// UnmarshalJSON parses and validates a stored subject document, rejecting
// unknown tags and ambiguous field combinations.
func (s *Subject) UnmarshalJSON(data []byte) error {
	var doc subjectDoc
	dec := newStrictDecoder(data)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("subject: %w", err)
	}

	hasIdentity := doc.Iss != "" || doc.Client != "" || doc.Sub != ""

	switch {
	case doc.Everyone:
		if doc.Anonymous || doc.Group != nil || hasIdentity {
			return fmt.Errorf("subject: 'everyone' cannot be combined with other fields")
		}
		*s = NewSubjectEveryone()
	case doc.Anonymous:
		if doc.Group != nil || hasIdentity {
			return fmt.Errorf("subject: 'anonymous' cannot be combined with other fields")
		}
		*s = NewSubjectAnonymous()
	case doc.Group != nil:
		if hasIdentity {
			return fmt.Errorf("subject: 'group' cannot be combined with issuer fields")
		}
		*s = NewSubjectGroup(*doc.Group)
	case doc.Iss != "":
		switch {
		case doc.Client != "" && doc.Sub != "":
			*s = NewSubjectIssuerClientSubject(doc.Iss, doc.Client, doc.Sub)
		case doc.Client != "":
			*s = NewSubjectIssuerClient(doc.Iss, doc.Client)
		case doc.Sub != "":
			*s = NewSubjectIssuerSubject(doc.Iss, doc.Sub)
		default:
			return fmt.Errorf("subject: 'iss' requires 'client' and/or 'sub'")
		}
	default:
		return fmt.Errorf("subject: unrecognized pattern document")
	}

	return nil
}

// Equal reports structural equality, the comparison used for grant
// uniqueness.
func (s Subject) Equal(o Subject) bool {
	return s == o
}

func (s Subject) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "subject(invalid)"
	}
	return string(b)
}
