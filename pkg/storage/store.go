package storage

import (
	"github.com/cuemby/nimbus/pkg/types"
)

// Store defines the interface for cluster metadata storage: the
// durable record of nodes, resource units, instances, groups, and
// object references that survives a leader change. It is implemented
// by BoltDB and replicated across the cluster through the raft FSM in
// pkg/manager.
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Resource units
	CreateResourceUnit(unit *types.ResourceUnit) error
	GetResourceUnit(id string) (*types.ResourceUnit, error)
	ListResourceUnits() ([]*types.ResourceUnit, error)
	ListResourceUnitsByNode(nodeID string) ([]*types.ResourceUnit, error)
	UpdateResourceUnit(unit *types.ResourceUnit) error
	DeleteResourceUnit(id string) error

	// Instances
	CreateInstance(instance *types.Instance) error
	GetInstance(id string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	ListInstancesByGroup(groupID string) ([]*types.Instance, error)
	ListInstancesByUnit(unitID string) ([]*types.Instance, error)
	UpdateInstance(instance *types.Instance) error
	DeleteInstance(id string) error

	// Groups
	CreateGroup(group *types.Group) error
	GetGroup(id string) (*types.Group, error)
	ListGroups() ([]*types.Group, error)
	UpdateGroup(group *types.Group) error
	DeleteGroup(id string) error

	// Object references
	CreateObjectRef(ref *types.ObjectRef) error
	GetObjectRef(id string) (*types.ObjectRef, error)
	ListObjectRefs() ([]*types.ObjectRef, error)
	UpdateObjectRef(ref *types.ObjectRef) error
	DeleteObjectRef(id string) error

	// Utility
	Close() error
}
