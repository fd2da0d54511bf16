package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/nimbus/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNodes     = []byte("nodes")
	bucketUnits     = []byte("resource_units")
	bucketInstances = []byte("instances")
	bucketGroups    = []byte("groups")
	bucketObjects   = []byte("object_refs")
)

// BoltStore implements Store using an embedded BoltDB file. Every
// write is a single-bucket Put keyed by the entity's ID; the raft FSM
// in pkg/manager is the only caller that mutates a BoltStore directly,
// applying already-committed log entries.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "nimbus.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketNodes, bucketUnits, bucketInstances, bucketGroups, bucketObjects}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Node operations

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.put(bucketNodes, node.ID, node)
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	if err := s.get(bucketNodes, id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error { return s.CreateNode(node) }

func (s *BoltStore) DeleteNode(id string) error { return s.del(bucketNodes, id) }

// Resource unit operations

func (s *BoltStore) CreateResourceUnit(unit *types.ResourceUnit) error {
	return s.put(bucketUnits, unit.ID, unit)
}

func (s *BoltStore) GetResourceUnit(id string) (*types.ResourceUnit, error) {
	var unit types.ResourceUnit
	if err := s.get(bucketUnits, id, &unit); err != nil {
		return nil, err
	}
	return &unit, nil
}

func (s *BoltStore) ListResourceUnits() ([]*types.ResourceUnit, error) {
	var units []*types.ResourceUnit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnits).ForEach(func(k, v []byte) error {
			var unit types.ResourceUnit
			if err := json.Unmarshal(v, &unit); err != nil {
				return err
			}
			units = append(units, &unit)
			return nil
		})
	})
	return units, err
}

func (s *BoltStore) ListResourceUnitsByNode(nodeID string) ([]*types.ResourceUnit, error) {
	units, err := s.ListResourceUnits()
	if err != nil {
		return nil, err
	}
	var filtered []*types.ResourceUnit
	for _, u := range units {
		if u.NodeID == nodeID {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateResourceUnit(unit *types.ResourceUnit) error {
	return s.CreateResourceUnit(unit)
}

func (s *BoltStore) DeleteResourceUnit(id string) error { return s.del(bucketUnits, id) }

// Instance operations

func (s *BoltStore) CreateInstance(instance *types.Instance) error {
	return s.put(bucketInstances, instance.ID, instance)
}

func (s *BoltStore) GetInstance(id string) (*types.Instance, error) {
	var inst types.Instance
	if err := s.get(bucketInstances, id, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	return instances, err
}

func (s *BoltStore) ListInstancesByGroup(groupID string) ([]*types.Instance, error) {
	instances, err := s.ListInstances()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Instance
	for _, inst := range instances {
		if inst.GroupID == groupID {
			filtered = append(filtered, inst)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListInstancesByUnit(unitID string) ([]*types.Instance, error) {
	instances, err := s.ListInstances()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Instance
	for _, inst := range instances {
		if inst.UnitID == unitID {
			filtered = append(filtered, inst)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateInstance(instance *types.Instance) error {
	return s.CreateInstance(instance)
}

func (s *BoltStore) DeleteInstance(id string) error { return s.del(bucketInstances, id) }

// Group operations

func (s *BoltStore) CreateGroup(group *types.Group) error {
	return s.put(bucketGroups, group.ID, group)
}

func (s *BoltStore) GetGroup(id string) (*types.Group, error) {
	var group types.Group
	if err := s.get(bucketGroups, id, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *BoltStore) ListGroups() ([]*types.Group, error) {
	var groups []*types.Group
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroups).ForEach(func(k, v []byte) error {
			var group types.Group
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			groups = append(groups, &group)
			return nil
		})
	})
	return groups, err
}

func (s *BoltStore) UpdateGroup(group *types.Group) error { return s.CreateGroup(group) }

func (s *BoltStore) DeleteGroup(id string) error { return s.del(bucketGroups, id) }

// Object reference operations

func (s *BoltStore) CreateObjectRef(ref *types.ObjectRef) error {
	return s.put(bucketObjects, ref.ID, ref)
}

func (s *BoltStore) GetObjectRef(id string) (*types.ObjectRef, error) {
	var ref types.ObjectRef
	if err := s.get(bucketObjects, id, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *BoltStore) ListObjectRefs() ([]*types.ObjectRef, error) {
	var refs []*types.ObjectRef
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			var ref types.ObjectRef
			if err := json.Unmarshal(v, &ref); err != nil {
				return err
			}
			refs = append(refs, &ref)
			return nil
		})
	})
	return refs, err
}

func (s *BoltStore) UpdateObjectRef(ref *types.ObjectRef) error { return s.CreateObjectRef(ref) }

func (s *BoltStore) DeleteObjectRef(id string) error { return s.del(bucketObjects, id) }

// put marshals v as JSON and stores it under key in bucket.
func (s *BoltStore) put(bucket []byte, key string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// get unmarshals the JSON value stored under key in bucket into v.
func (s *BoltStore) get(bucket []byte, key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s not found: %s", bucket, key)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) del(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}
