//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package permissions holds the fixed registry of permissions the service
// understands.
//
// A permission is a verb:noun string (e.g. "query:data"). Each registered
// permission carries the least-specific resource pattern at which it may be
// granted, whether it supports data-type narrowing, and the set of further
// permissions a grant of it implies ("gives").
//
// The registry is populated at init and immutable afterwards.
package permissions

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bento-platform/authz/pkg/core/model"
)

// Level is the minimum resource specificity at which a permission may be
// granted, expressed on the same 0-3 scale as [model.Resource.Specificity].
type Level int

// Grantable levels.
const (
	// LevelEverything permissions may be granted at any scope.
	LevelEverything Level = 0
	// LevelProject permissions are project-or-narrower only.
	LevelProject Level = 1
	// LevelDataset permissions are dataset-or-narrower only.
	LevelDataset Level = 2
)

func (l Level) String() string {
	switch l {
	case LevelEverything:
		return "everything"
	case LevelProject:
		return "project"
	case LevelDataset:
		return "dataset"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Permission is one registry entry.
type Permission struct {
	verb      string
	noun      string
	minLevel  Level
	narrowing bool
	gives     []string
}

// ID returns the verb:noun identifier.
func (p Permission) ID() string { return p.verb + ":" + p.noun }

// Verb returns the action component.
func (p Permission) Verb() string { return p.verb }

// Noun returns the object component.
func (p Permission) Noun() string { return p.noun }

// MinLevel returns the least-specific resource level at which the
// permission may be granted.
func (p Permission) MinLevel() Level { return p.minLevel }

// SupportsDataTypeNarrowing reports whether the permission may be granted
// on data-type-scoped resources.
func (p Permission) SupportsDataTypeNarrowing() bool { return p.narrowing }

// Gives returns the permissions a grant of this permission directly implies.
func (p Permission) Gives() []string {
	out := make([]string, len(p.gives))
	copy(out, p.gives)
	return out
}

// ValidForResource reports whether the permission may be attached to the
// given resource pattern: the pattern must be at least as specific as the
// permission's minimum level, and data-type-scoped patterns require
// narrowing support.
func (p Permission) ValidForResource(r model.Resource) bool {
	if r.Specificity() < int(p.minLevel) {
		return false
	}
	if !p.narrowing {
		switch r.Kind() {
		case model.ResourceProjectDataType, model.ResourceProjectDatasetDataType:
			return false
		}
	}
	return true
}

var (
	registryMu sync.RWMutex
	byID       = map[string]Permission{}
	ordered    []string
)

func register(verb, noun string, minLevel Level, narrowing bool, gives ...string) Permission {
	p := Permission{verb: verb, noun: noun, minLevel: minLevel, narrowing: narrowing, gives: gives}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := byID[p.ID()]; dup {
		panic(fmt.Sprintf("permissions: duplicate registration of %s", p.ID()))
	}
	byID[p.ID()] = p
	ordered = append(ordered, p.ID())
	return p
}

// The permission registry. Narrowing is reserved for the data-level
// permissions; query-level permissions are scope-restricted per their noun.
var (
	QueryProjectLevelBoolean = register("query", "project_level_boolean", LevelProject, false)
	QueryDatasetLevelBoolean = register("query", "dataset_level_boolean", LevelDataset, false)
	QueryProjectLevelCounts  = register("query", "project_level_counts", LevelProject, false)
	QueryDatasetLevelCounts  = register("query", "dataset_level_counts", LevelDataset, false)

	QueryData = register("query", "data", LevelEverything, true,
		"query:project_level_boolean", "query:dataset_level_boolean",
		"query:project_level_counts", "query:dataset_level_counts")
	DownloadData = register("download", "data", LevelEverything, true, "query:data")
	DeleteData   = register("delete", "data", LevelEverything, true)
	IngestData   = register("ingest", "data", LevelEverything, true)
	AnalyzeData  = register("analyze", "data", LevelEverything, true)
	ExportData   = register("export", "data", LevelEverything, true)

	CreateProject = register("create", "project", LevelEverything, false)
	EditProject   = register("edit", "project", LevelEverything, false)
	DeleteProject = register("delete", "project", LevelEverything, false)

	CreateDataset = register("create", "dataset", LevelProject, false)
	EditDataset   = register("edit", "dataset", LevelProject, false)
	DeleteDataset = register("delete", "dataset", LevelProject, false)

	ViewPermissions = register("view", "permissions", LevelEverything, false)
	EditPermissions = register("edit", "permissions", LevelEverything, false, "view:permissions")

	ViewGroups = register("view", "groups", LevelEverything, false)
	EditGroups = register("edit", "groups", LevelEverything, false, "view:groups")

	ViewPrivatePortal = register("view", "private_portal", LevelEverything, false)
)

// Lookup returns the registry entry for a verb:noun id.
func Lookup(id string) (Permission, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := byID[id]
	return p, ok
}

// All returns every registered permission in registration order.
func All() []Permission {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Permission, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, byID[id])
	}
	return out
}

// Expand returns the transitive closure of a granted permission: the
// permission itself plus everything it gives, sorted for stable output.
// Unknown ids expand to themselves alone.
func Expand(id string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		if p, ok := Lookup(cur); ok {
			for _, g := range p.gives {
				walk(g)
			}
		}
	}
	walk(id)

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Confers reports whether a grant of `granted` implies `requested`.
func Confers(granted, requested string) bool {
	if granted == requested {
		return true
	}
	for _, id := range Expand(granted) {
		if id == requested {
			return true
		}
	}
	return false
}
