/*
Package api implements the Nimbus gRPC API server: the single front
door a manager node exposes for scheduling, invoking, and tearing down
function instances and instance groups.

The api package is the gateway between external callers (the CLI, the
invoke client in pkg/invokeadaptor, and peer managers) and the cluster
control plane. It implements the nine-method NimbusAPI service defined
in pkg/rpcmsg, with leader forwarding, request validation, and metrics
instrumentation on every RPC.

# Architecture

The API server sits in front of the scheduler, object store, and group
manager, and proposes every mutation through the Raft-backed manager:

	┌────────────────── CLIENT (CLI/invoke adaptor) ─────────────────┐
	│                                                                  │
	│  ┌──────────────────────────────────────────────┐              │
	│  │         NimbusAPIClient (pkg/rpcmsg)          │              │
	│  └──────────────────┬───────────────────────────┘              │
	└─────────────────────┼────────────────────────────────────────────┘
	                      │ gRPC
	                      │
	┌─────────────────────▼──── MANAGER NODE ────────────────────────┐
	│                                                                  │
	│  ┌──────────────────────────────────────────────┐              │
	│  │          gRPC API Server (pkg/api)            │              │
	│  │  - Create / Invoke / Kill                     │              │
	│  │  - CreateResourceGroup / RemoveResourceGroup  │              │
	│  │  - QueryResources / QueryNamedInstances /     │              │
	│  │    QueryResourceGroup                         │              │
	│  │  - WatchFrames (server-streaming)             │              │
	│  └───┬──────────┬───────────┬──────────┬────────┘              │
	│      │          │           │          │                        │
	│  scheduler  objectstore  groupmanager  notifybus                 │
	│      │                                                           │
	│  ┌───▼────────────────────────────────────────────┐             │
	│  │                   Manager (Raft)                │             │
	│  └──────────────────────────────────────────────────┘             │
	└──────────────────────────────────────────────────────────────────┘

# RPC Methods

Instance Operations:
  - Create: Schedule a new function instance
  - Invoke: Call an already-scheduled instance
  - Kill: Terminate one instance, a group, or everything

Group Operations:
  - CreateResourceGroup: Schedule a range or function-group bundle
  - RemoveResourceGroup: Cascade-kill a group and delete its record

Query Operations:
  - QueryResources: List the resource-unit inventory
  - QueryNamedInstances: List instances by function name
  - QueryResourceGroup: Inspect a group's membership and state

Async Delivery:
  - WatchFrames: Stream Notify/Checkpoint/Recover/Signal/Shutdown
    frames for a request ID until the caller disconnects

# Wire Messages

Requests and responses are plain Go structs defined in pkg/rpcmsg,
exchanged through a hand-registered JSON codec rather than protobuf —
see pkg/rpcmsg's package doc for why. Conversion between wire types and
pkg/types happens at the RPC boundary (fromWireAffinity,
fromWireSelector, toWireFrame) so the scheduler and manager never see
the wire representation.

# Usage

Creating and starting the server:

	import (
		"github.com/cuemby/nimbus/pkg/api"
		"github.com/cuemby/nimbus/pkg/manager"
	)

	mgr, err := manager.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	srv, err := api.NewServer(mgr, nil) // nil tlsConfig: no transport security
	if err != nil {
		log.Fatal(err)
	}

	if err := srv.Start("0.0.0.0:7070"); err != nil {
		log.Fatal(err)
	}

# Leader Forwarding

Every mutating RPC (Create, Invoke's side effects excluded, Kill,
CreateResourceGroup, RemoveResourceGroup) calls ensureLeader first:

	func (s *Server) Create(ctx context.Context, req *rpcmsg.CreateRequest) (*rpcmsg.CreateResponse, error) {
		if err := s.ensureLeader(); err != nil {
			return nil, err // CodeLeaderUnknown, with the current leader's address if known
		}
		...
	}

Query* RPCs and Invoke read local state and are served by any manager,
leader or follower.

# Asynchronous Completion

Create and CreateResourceGroup acknowledge immediately with an
instance or group ID; the scheduler resolves placement on its own
goroutine and the result is published as a notifybus.Frame, which
WatchFrames forwards to any subscriber watching that request ID. A
caller that needs to know whether its instance actually landed opens a
WatchFrames stream before or immediately after issuing Create.

# Request Validation

validateCreate enforces the same constraints on every instance-
creating path (Create and each member of CreateResourceGroup):
function name length, concurrency range, and label grammar
(types.ValidateLabel). Affinity selectors are converted but not
independently validated — a malformed selector simply matches nothing
in the scheduler, it cannot corrupt cluster state.

# Error Handling

Errors returned from RPC methods are *rpcerrors.Status values carrying
a pkg/rpcerrors code (CodeLeaderUnknown, CodeParamInvalid,
CodeFunctionNotFound, CodeConcurrencyOutOfRange, CodeLabelInvalid,
CodeInternal, ...). pkg/rpcerrors.ToPosix maps each code to the POSIX
errno value an invoke caller expects back.

# Integration Points

This package integrates with:

  - pkg/manager: Raft-backed instance, group, and resource-unit storage
  - pkg/scheduler: asynchronous placement via the shared resource view
  - pkg/objectstore, pkg/invokeorder: argument binding and call ordering
  - pkg/groupmanager: group cache and cascade-kill on member failure
  - pkg/notifybus: async frame delivery backing WatchFrames
  - pkg/rpcmsg: wire messages and the hand-built gRPC service
    descriptor
  - pkg/metrics: per-RPC and per-stage instrumentation

# See Also

  - pkg/rpcmsg for the wire message definitions and service descriptor
  - pkg/invokeadaptor for the client this server is built against
  - pkg/manager for the Raft-backed state machine behind it
*/
package api
