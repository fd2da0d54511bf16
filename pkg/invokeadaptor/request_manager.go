package invokeadaptor

import (
	"context"
	"sync"

	"github.com/cuemby/nimbus/pkg/rpcmsg"
)

// maxConcurrentCallbacks bounds how many onFrame callbacks run at
// once: a Go-channel-as-counting-semaphore replacement for the client
// runtime's fiber pool, a thread pool backed by a semaphore limiting
// concurrent user handlers.
const maxConcurrentCallbacks = 64

// RequestManager opens one WatchFrames stream per outstanding request
// ID and demultiplexes the frames it receives, mirroring
// pkg/notifybus's per-request-id fan-out on the server side.
type RequestManager struct {
	rpc  rpcmsg.NimbusAPIClient
	sem  chan struct{}
	mu   sync.Mutex
	done chan struct{}
}

func newRequestManager(rpc rpcmsg.NimbusAPIClient) *RequestManager {
	return &RequestManager{
		rpc:  rpc,
		sem:  make(chan struct{}, maxConcurrentCallbacks),
		done: make(chan struct{}),
	}
}

// Close signals every outstanding watch to stop; individual watches
// close their own streams when their context ends.
func (m *RequestManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// Watch opens a frame stream for requestID. The caller is responsible
// for calling Close on the returned handle once it stops reading.
func (m *RequestManager) Watch(ctx context.Context, requestID string) (*watchHandle, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := m.rpc.WatchFrames(streamCtx, &rpcmsg.WatchFramesRequest{RequestID: requestID})
	if err != nil {
		cancel()
		return nil, err
	}

	h := &watchHandle{
		cancel: cancel,
		frames: make(chan *rpcmsg.Frame, 1),
	}
	go h.pump(stream)
	return h, nil
}

// Dispatch runs onFrame for every frame published for requestID until
// ctx is done or the stream ends, bounded by the shared callback
// semaphore.
func (m *RequestManager) Dispatch(ctx context.Context, requestID string, onFrame func(*rpcmsg.Frame)) error {
	stream, err := m.rpc.WatchFrames(ctx, &rpcmsg.WatchFramesRequest{RequestID: requestID})
	if err != nil {
		return err
	}
	for {
		frame, err := stream.Recv()
		if err != nil {
			return nil
		}
		m.sem <- struct{}{}
		go func(f *rpcmsg.Frame) {
			defer func() { <-m.sem }()
			onFrame(f)
		}(frame)
	}
}

// watchHandle is a single in-flight WatchFrames subscription. Create
// and CreateResourceGroup only ever read one frame off it before
// closing, but the channel is buffered so a second frame (e.g. a
// Checkpoint that races the Notify) is never dropped silently.
type watchHandle struct {
	cancel context.CancelFunc
	frames chan *rpcmsg.Frame
}

func (h *watchHandle) Frames() <-chan *rpcmsg.Frame { return h.frames }

func (h *watchHandle) Close() { h.cancel() }

func (h *watchHandle) pump(stream rpcmsg.NimbusAPI_WatchFramesClient) {
	for {
		frame, err := stream.Recv()
		if err != nil {
			close(h.frames)
			return
		}
		select {
		case h.frames <- frame:
		default:
			// slow consumer: drop rather than block the stream, matching
			// notifybus's buffered-channel-with-drop-on-full behavior.
		}
	}
}
