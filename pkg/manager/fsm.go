package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/hashicorp/raft"
)

// NimbusFSM implements the raft finite state machine for cluster
// metadata: nodes, resource units, instances, groups, and object
// references. It applies committed log entries to the backing store
// and handles snapshot/restore.
type NimbusFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewNimbusFSM creates a new FSM instance over store.
func NewNimbusFSM(store storage.Store) *NimbusFSM {
	return &NimbusFSM{store: store}
}

// Command represents a state change operation in the raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a raft log entry to the FSM. Called by raft when a
// log entry is committed.
func (f *NimbusFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_node":
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.CreateNode(&node)

	case "update_node":
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.UpdateNode(&node)

	case "delete_node":
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		return f.store.DeleteNode(nodeID)

	case "create_unit":
		var unit types.ResourceUnit
		if err := json.Unmarshal(cmd.Data, &unit); err != nil {
			return err
		}
		return f.store.CreateResourceUnit(&unit)

	case "update_unit":
		var unit types.ResourceUnit
		if err := json.Unmarshal(cmd.Data, &unit); err != nil {
			return err
		}
		return f.store.UpdateResourceUnit(&unit)

	case "delete_unit":
		var unitID string
		if err := json.Unmarshal(cmd.Data, &unitID); err != nil {
			return err
		}
		return f.store.DeleteResourceUnit(unitID)

	case "create_instance":
		var inst types.Instance
		if err := json.Unmarshal(cmd.Data, &inst); err != nil {
			return err
		}
		return f.store.CreateInstance(&inst)

	case "update_instance":
		var inst types.Instance
		if err := json.Unmarshal(cmd.Data, &inst); err != nil {
			return err
		}
		return f.store.UpdateInstance(&inst)

	case "delete_instance":
		var instID string
		if err := json.Unmarshal(cmd.Data, &instID); err != nil {
			return err
		}
		return f.store.DeleteInstance(instID)

	case "create_group":
		var group types.Group
		if err := json.Unmarshal(cmd.Data, &group); err != nil {
			return err
		}
		return f.store.CreateGroup(&group)

	case "update_group":
		var group types.Group
		if err := json.Unmarshal(cmd.Data, &group); err != nil {
			return err
		}
		return f.store.UpdateGroup(&group)

	case "delete_group":
		var groupID string
		if err := json.Unmarshal(cmd.Data, &groupID); err != nil {
			return err
		}
		return f.store.DeleteGroup(groupID)

	case "create_object_ref":
		var ref types.ObjectRef
		if err := json.Unmarshal(cmd.Data, &ref); err != nil {
			return err
		}
		return f.store.CreateObjectRef(&ref)

	case "update_object_ref":
		var ref types.ObjectRef
		if err := json.Unmarshal(cmd.Data, &ref); err != nil {
			return err
		}
		return f.store.UpdateObjectRef(&ref)

	case "delete_object_ref":
		var refID string
		if err := json.Unmarshal(cmd.Data, &refID); err != nil {
			return err
		}
		return f.store.DeleteObjectRef(refID)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM, called
// periodically by raft to compact the log.
func (f *NimbusFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %v", err)
	}
	units, err := f.store.ListResourceUnits()
	if err != nil {
		return nil, fmt.Errorf("failed to list resource units: %v", err)
	}
	instances, err := f.store.ListInstances()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %v", err)
	}
	groups, err := f.store.ListGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %v", err)
	}
	refs, err := f.store.ListObjectRefs()
	if err != nil {
		return nil, fmt.Errorf("failed to list object refs: %v", err)
	}

	return &NimbusSnapshot{
		Nodes:      nodes,
		Units:      units,
		Instances:  instances,
		Groups:     groups,
		ObjectRefs: refs,
	}, nil
}

// Restore restores the FSM from a snapshot, called when a node
// restarts or joins the cluster.
func (f *NimbusFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot NimbusSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snapshot.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("failed to restore node: %v", err)
		}
	}
	for _, unit := range snapshot.Units {
		if err := f.store.CreateResourceUnit(unit); err != nil {
			return fmt.Errorf("failed to restore resource unit: %v", err)
		}
	}
	for _, inst := range snapshot.Instances {
		if err := f.store.CreateInstance(inst); err != nil {
			return fmt.Errorf("failed to restore instance: %v", err)
		}
	}
	for _, group := range snapshot.Groups {
		if err := f.store.CreateGroup(group); err != nil {
			return fmt.Errorf("failed to restore group: %v", err)
		}
	}
	for _, ref := range snapshot.ObjectRefs {
		if err := f.store.CreateObjectRef(ref); err != nil {
			return fmt.Errorf("failed to restore object ref: %v", err)
		}
	}

	return nil
}

// NimbusSnapshot represents a point-in-time snapshot of cluster
// metadata.
type NimbusSnapshot struct {
	Nodes      []*types.Node
	Units      []*types.ResourceUnit
	Instances  []*types.Instance
	Groups     []*types.Group
	ObjectRefs []*types.ObjectRef
}

// Persist writes the snapshot to the given SnapshotSink.
func (s *NimbusSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources.
func (s *NimbusSnapshot) Release() {}
