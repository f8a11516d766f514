// Package rbac implements the registry's credential x permission x resource
// access map, grounded on the tagged-union shape of
// original_source/registry/registry-provider/src/rbac_provider.rs.
package rbac

import "sync"

// CredentialKind discriminates the three caller shapes a request can carry.
type CredentialKind string

const (
	CredentialUser        CredentialKind = "User"
	CredentialApp         CredentialKind = "App"
	CredentialRbacDisabled CredentialKind = "RbacDisabled"
)

// Credential identifies the caller of a request.
type Credential struct {
	Kind CredentialKind
	Name string // user name or app id; empty for RbacDisabled
}

// DisabledCredential is used when no authentication/authorization has been
// configured for the cluster; every check against it passes.
var DisabledCredential = Credential{Kind: CredentialRbacDisabled}

// Permission is one of the three access levels the map grants.
type Permission string

const (
	PermissionRead  Permission = "Read"
	PermissionWrite Permission = "Write"
	PermissionAdmin Permission = "Admin"
)

// ResourceKind discriminates the three resource shapes a grant can target.
type ResourceKind string

const (
	ResourceGlobal      ResourceKind = "Global"
	ResourceNamedEntity ResourceKind = "NamedEntity"
	ResourceEntity      ResourceKind = "Entity"
)

// Resource is the target of a grant or check.
type Resource struct {
	Kind ResourceKind
	// Name holds the qualified name for ResourceNamedEntity, or the id
	// string for ResourceEntity; ignored for ResourceGlobal.
	Name string
}

// GlobalResource is the resource every Admin-level grant implicitly covers.
var GlobalResource = Resource{Kind: ResourceGlobal}

type key struct {
	credential Credential
	permission Permission
}

// Map is the registry's three-level credential -> permission -> resource
// set. It is mutated only through replicated state-machine commands and
// snapshotted with the rest of the state machine.
type Map struct {
	mu    sync.RWMutex
	grant map[key]map[Resource]bool
}

// New returns an empty RBAC map.
func New() *Map {
	return &Map{grant: make(map[key]map[Resource]bool)}
}

// Grant allows credential the given permission on resource.
func (m *Map) Grant(credential Credential, permission Permission, resource Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{credential, permission}
	if m.grant[k] == nil {
		m.grant[k] = make(map[Resource]bool)
	}
	m.grant[k][resource] = true
}

// Revoke removes a previously granted permission.
func (m *Map) Revoke(credential Credential, permission Permission, resource Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grant[key{credential, permission}], resource)
}

// Check reports whether credential holds permission on resource. A
// RbacDisabled credential always passes. An Admin grant on GlobalResource
// implies every permission everywhere; a grant of exactly the requested
// permission on exactly the requested resource, or on GlobalResource,
// otherwise settles the check.
func (m *Map) Check(credential Credential, resource Resource, permission Permission) bool {
	if credential.Kind == CredentialRbacDisabled {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.grant[key{credential, PermissionAdmin}][GlobalResource] {
		return true
	}
	if m.grant[key{credential, permission}][GlobalResource] {
		return true
	}
	return m.grant[key{credential, permission}][resource]
}

// Snapshot returns every (credential, permission, resource) grant, for
// inclusion in a Raft snapshot.
func (m *Map) Snapshot() []GrantEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []GrantEntry
	for k, resources := range m.grant {
		for r := range resources {
			out = append(out, GrantEntry{Credential: k.credential, Permission: k.permission, Resource: r})
		}
	}
	return out
}

// GrantEntry is one row of a snapshot.
type GrantEntry struct {
	Credential Credential
	Permission Permission
	Resource   Resource
}

// Restore replaces the map's contents wholesale with entries, as performed
// by Raft install-snapshot.
func (m *Map) Restore(entries []GrantEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grant = make(map[key]map[Resource]bool)
	for _, e := range entries {
		k := key{e.Credential, e.Permission}
		if m.grant[k] == nil {
			m.grant[k] = make(map[Resource]bool)
		}
		m.grant[k][e.Resource] = true
	}
}
