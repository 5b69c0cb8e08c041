package store

import (
	"sync"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

// AttachDataBuffer is the retransmission payload bound to a running T3450
// (TS 24.301 §3, C3): a back-reference to the owning UE, the retry counter, and
// the cached ESM container that must be replayed byte-for-byte on every
// retransmission (TS 24.301 §5 Ordering guarantees).
type AttachDataBuffer struct {
	UEID         uint32
	Retries      int
	ESMContainer emmtypes.OctetString
}

// BufferRegistry is the common-procedure dispatcher's bookkeeping for
// "exactly one Attach Data Buffer bound to a running T3450" (TS 24.301 §3
// invariants). Keyed by ue_id, and a buffer refers back to its UE by ue_id
// rather than by a context pointer, to avoid a reference cycle between the
// buffer and its context (TS 24.301 §9 "Ownership of the context").
type BufferRegistry struct {
	mu      sync.Mutex
	buffers map[uint32]*AttachDataBuffer
}

func NewBufferRegistry() *BufferRegistry {
	return &BufferRegistry{buffers: make(map[uint32]*AttachDataBuffer)}
}

// Put registers buf for ueID, replacing any previous buffer for that UE.
func (r *BufferRegistry) Put(ueID uint32, buf *AttachDataBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[ueID] = buf
}

// Get returns the buffer registered for ueID, if any.
func (r *BufferRegistry) Get(ueID uint32) (*AttachDataBuffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[ueID]
	return buf, ok
}

// Remove drops the buffer for ueID. Safe to call even if none is
// registered (ATTACH COMPLETE racing an already-aborted attach).
func (r *BufferRegistry) Remove(ueID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, ueID)
}
