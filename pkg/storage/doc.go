/*
Package storage provides BoltDB-backed persistence for cluster metadata:
nodes, resource units, instances, groups, and object references. Every
write is a whole-value JSON Put keyed by entity ID, in its own bucket.

The Store interface is what pkg/manager's raft FSM applies committed
log entries against; nothing else in Nimbus talks to BoltDB directly,
since an un-replicated write would diverge from the rest of the
cluster on the next leader election.

	nodes           (Node ID)
	resource_units  (ResourceUnit ID)
	instances       (Instance ID)
	groups          (Group ID)
	object_refs     (ObjectRef ID)

BoltStore itself does no validation or locking beyond what BoltDB's
single-writer transactions already provide — callers (the FSM) are
expected to serialize writes through raft before they ever reach here.
*/
package storage
