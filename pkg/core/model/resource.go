//
//  Copyright © Manetu Inc. All rights reserved.
//

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResourceKind discriminates the resource pattern variants.
type ResourceKind int

// Resource pattern kinds, ordered from least to most specific.
const (
	// ResourceEverything matches every resource.
	ResourceEverything ResourceKind = iota + 1
	// ResourceProject matches a project and all nested items.
	ResourceProject
	// ResourceProjectDataset matches a dataset and its data-type instances.
	ResourceProjectDataset
	// ResourceProjectDataType matches a data-type bucket across all datasets
	// in a project.
	ResourceProjectDataType
	// ResourceProjectDatasetDataType is the most specific pattern.
	ResourceProjectDatasetDataType
)

// Resource is a tagged resource pattern describing a point in the
// project -> dataset -> data-type hierarchy. The zero value is invalid.
type Resource struct {
	kind     ResourceKind
	project  string
	dataset  string
	dataType string
}

// NewResourceEverything returns the pattern covering every resource.
func NewResourceEverything() Resource {
	return Resource{kind: ResourceEverything}
}

// NewResourceProject returns the pattern covering a whole project.
func NewResourceProject(project string) Resource {
	return Resource{kind: ResourceProject, project: project}
}

// NewResourceProjectDataset returns the pattern covering one dataset.
func NewResourceProjectDataset(project, dataset string) Resource {
	return Resource{kind: ResourceProjectDataset, project: project, dataset: dataset}
}

// NewResourceProjectDataType returns the pattern covering a data-type bucket
// across all datasets of a project.
func NewResourceProjectDataType(project, dataType string) Resource {
	return Resource{kind: ResourceProjectDataType, project: project, dataType: dataType}
}

// NewResourceProjectDatasetDataType returns the fully-qualified pattern.
func NewResourceProjectDatasetDataType(project, dataset, dataType string) Resource {
	return Resource{
		kind:     ResourceProjectDatasetDataType,
		project:  project,
		dataset:  dataset,
		dataType: dataType,
	}
}

// Kind returns the pattern discriminator.
func (r Resource) Kind() ResourceKind { return r.kind }

// Project returns the project component, if any.
func (r Resource) Project() string { return r.project }

// Dataset returns the dataset component, if any.
func (r Resource) Dataset() string { return r.dataset }

// DataType returns the data-type component, if any.
func (r Resource) DataType() string { return r.dataType }

// Specificity returns the integer height of the pattern in the cascade
// lattice: Everything=0, Project=1, ProjectDataset=2, ProjectDataType=2,
// ProjectDatasetDataType=3.
func (r Resource) Specificity() int {
	switch r.kind {
	case ResourceEverything:
		return 0
	case ResourceProject:
		return 1
	case ResourceProjectDataset, ResourceProjectDataType:
		return 2
	case ResourceProjectDatasetDataType:
		return 3
	default:
		return -1
	}
}

// CascadeRank is the strict ordering used when bucketing grants during
// evaluation. It refines Specificity by breaking the specificity-2 tie:
// dataset scope beats data-type scope.
func (r Resource) CascadeRank() int {
	switch r.kind {
	case ResourceEverything:
		return 0
	case ResourceProject:
		return 1
	case ResourceProjectDataType:
		return 2
	case ResourceProjectDataset:
		return 3
	case ResourceProjectDatasetDataType:
		return 4
	default:
		return -1
	}
}

// Covers tests whether this pattern (a grant's resource) covers the
// requested resource under the cascade. The request must be fully
// qualified; Everything is not a legal request and never matches any
// non-Everything pattern.
func (r Resource) Covers(requested Resource) bool {
	switch r.kind {
	case ResourceEverything:
		return true
	case ResourceProject:
		return requested.kind != ResourceEverything && r.project == requested.project
	case ResourceProjectDataset:
		if r.project != requested.project {
			return false
		}
		switch requested.kind {
		case ResourceProjectDataset, ResourceProjectDatasetDataType:
			return r.dataset == requested.dataset
		default:
			return false
		}
	case ResourceProjectDataType:
		if r.project != requested.project {
			return false
		}
		switch requested.kind {
		case ResourceProjectDataType, ResourceProjectDatasetDataType:
			return r.dataType == requested.dataType
		default:
			return false
		}
	case ResourceProjectDatasetDataType:
		return requested.kind == ResourceProjectDatasetDataType &&
			r.project == requested.project &&
			r.dataset == requested.dataset &&
			r.dataType == requested.dataType
	default:
		return false
	}
}

// resourceDoc is the wire/storage representation.
type resourceDoc struct {
	Everything bool   `json:"everything,omitempty"`
	Project    string `json:"project,omitempty"`
	Dataset    string `json:"dataset,omitempty"`
	DataType   string `json:"data_type,omitempty"`
}

// MarshalJSON renders the self-describing document form.
func (r Resource) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case ResourceEverything:
		return json.Marshal(resourceDoc{Everything: true})
	case ResourceProject:
		return json.Marshal(resourceDoc{Project: r.project})
	case ResourceProjectDataset:
		return json.Marshal(resourceDoc{Project: r.project, Dataset: r.dataset})
	case ResourceProjectDataType:
		return json.Marshal(resourceDoc{Project: r.project, DataType: r.dataType})
	case ResourceProjectDatasetDataType:
		return json.Marshal(resourceDoc{Project: r.project, Dataset: r.dataset, DataType: r.dataType})
	default:
		return nil, fmt.Errorf("resource: cannot marshal zero value")
	}
}

// UnmarshalJSON parses and validates a stored resource document, rejecting
// unknown tags and ambiguous field combinations.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var doc resourceDoc
	dec := newStrictDecoder(data)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("resource: %w", err)
	}

	switch {
	case doc.Everything:
		if doc.Project != "" || doc.Dataset != "" || doc.DataType != "" {
			return fmt.Errorf("resource: 'everything' cannot be combined with other fields")
		}
		*r = NewResourceEverything()
	case doc.Project != "":
		switch {
		case doc.Dataset != "" && doc.DataType != "":
			*r = NewResourceProjectDatasetDataType(doc.Project, doc.Dataset, doc.DataType)
		case doc.Dataset != "":
			*r = NewResourceProjectDataset(doc.Project, doc.Dataset)
		case doc.DataType != "":
			*r = NewResourceProjectDataType(doc.Project, doc.DataType)
		default:
			*r = NewResourceProject(doc.Project)
		}
	default:
		return fmt.Errorf("resource: unrecognized pattern document")
	}

	return nil
}

// Equal reports structural equality.
func (r Resource) Equal(o Resource) bool {
	return r == o
}

func (r Resource) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "resource(invalid)"
	}
	return string(b)
}

// newStrictDecoder returns a JSON decoder that rejects unknown fields, the
// validation posture for all stored pattern documents.
func newStrictDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec
}
