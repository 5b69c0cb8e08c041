// Package store implements the Context Store (C1) and the Attach Data
// Buffer registry (C3) of the EMM Attach core: keyed, mutex-protected
// in-memory storage for per-UE EMM contexts, indexed by ue_id and by GUTI.
package store

import (
	"sync"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

// CommonProcedure is the tagged-union continuation of TS 24.301 §9: a
// subordinate procedure (identification, authentication, security-mode
// control) completes by invoking exactly one of these three closures. It
// replaces the original's (success_cb, failure_cb, release_cb) function
// pointer triplet.
type CommonProcedure struct {
	Success func(ctx *EMMContext)
	Failure func(ctx *EMMContext)
	Release func(ctx *EMMContext)
}

// EMMContext is the per-UE EMM context of TS 24.301 §3.
type EMMContext struct {
	mu sync.Mutex

	UEID      uint32
	IsDynamic bool

	GUTI      *emmtypes.GUTI
	OldGUTI   *emmtypes.GUTI
	GUTIIsNew bool

	// GUTIVerifiedOnRebind is set when this context was located via a
	// GUTI-based rebind (TS 24.301 §4.4 step 3 "proceed with the found
	// context as if new"). The identification dispatcher consults it to
	// decide whether a GUTI-only identify can skip the identification
	// common procedure, when the short-circuit feature is enabled.
	GUTIVerifiedOnRebind bool

	IMSI string
	IMEI string

	Security *emmtypes.SecurityContext
	Vector   *emmtypes.AuthVector

	Capabilities emmtypes.Capabilities
	KSI          uint8
	KSIPresent   bool

	TAC   uint16
	NTACs int

	IsEmergency bool
	IsAttached  bool

	EMMCause emmtypes.EMMCause
	ESMMsg   emmtypes.OctetString

	FSMStatus emmtypes.FSMStatus

	T3450 uint32
	T3460 uint32
	T3470 uint32

	// Pending is the continuation a subordinate procedure will invoke on
	// completion (TS 24.301 §9). Nil when no subordinate procedure is running.
	Pending *CommonProcedure
}

// NewEMMContext builds a fresh context with all fields at their defaults
// (TS 24.301 §4.4 step 3, "allocate a fresh dynamic context").
func NewEMMContext(ueID uint32, dynamic bool) *EMMContext {
	return &EMMContext{
		UEID:      ueID,
		IsDynamic: dynamic,
		EMMCause:  emmtypes.EMMCauseSuccess,
		FSMStatus: emmtypes.FSMDeregistered,
		T3450:     emmtypes.NASTimerInactiveID,
		T3460:     emmtypes.NASTimerInactiveID,
		T3470:     emmtypes.NASTimerInactiveID,
	}
}

// Lock/Unlock expose the per-context mutex so a caller can hold it across a
// short read-modify-write sequence; the Attach State Machine runs each
// entry point to completion without interleaving on a given UE (TS 24.301 §5),
// so in single-shard use this is uncontended, but stays safe if a sharding
// scheme parallelizes across goroutines per UE.
func (c *EMMContext) Lock()   { c.mu.Lock() }
func (c *EMMContext) Unlock() { c.mu.Unlock() }

// OnUEIDChange is the observer signature the store notifies before
// rebinding a context to a new lower-layer UE identifier (TS 24.301 §4.1).
type OnUEIDChange func(old, new uint32)

// ContextStore is the Context Store (C1): two mutually-consistent indices,
// by ue_id and by GUTI, over context ownership held exclusively by the
// store (TS 24.301 §3 Ownership & invariants, §9).
type ContextStore struct {
	mu       sync.RWMutex
	byUEID   map[uint32]*EMMContext
	byGUTI   map[emmtypes.GUTI]*EMMContext
	observer OnUEIDChange
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{
		byUEID: make(map[uint32]*EMMContext),
		byGUTI: make(map[emmtypes.GUTI]*EMMContext),
	}
}

// SetObserver registers the callback invoked by RebindUEID before the
// remove/insert pair (TS 24.301 §4.1).
func (s *ContextStore) SetObserver(fn OnUEIDChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// GetByUEID returns a non-owning handle to the context keyed by ue_id.
func (s *ContextStore) GetByUEID(ueID uint32) (*EMMContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.byUEID[ueID]
	return ctx, ok
}

// GetByGUTI returns a non-owning handle to the context keyed by GUTI.
func (s *ContextStore) GetByGUTI(guti emmtypes.GUTI) (*EMMContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.byGUTI[guti]
	return ctx, ok
}

// Insert adds ctx to the store. It is a no-op if a context with that ue_id
// already exists — duplicate indexing is a caller bug (TS 24.301 §4.1).
func (s *ContextStore) Insert(ctx *EMMContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUEID[ctx.UEID]; exists {
		return
	}
	s.byUEID[ctx.UEID] = ctx
	if ctx.GUTI != nil {
		s.byGUTI[*ctx.GUTI] = ctx
	}
}

// IndexGUTI (re-)establishes the GUTI index entry for ctx, removing any
// stale entry under its previous GUTI first (TS 24.301 §4.2, §9 "GUTI index
// mutation"). Pass oldGUTI as nil when the context previously had none.
func (s *ContextStore) IndexGUTI(ctx *EMMContext, oldGUTI *emmtypes.GUTI) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldGUTI != nil {
		if existing, ok := s.byGUTI[*oldGUTI]; ok && existing == ctx {
			delete(s.byGUTI, *oldGUTI)
		}
	}
	if ctx.GUTI != nil {
		s.byGUTI[*ctx.GUTI] = ctx
	}
}

// Remove destroys ctx and both its index entries atomically with respect to
// concurrent lookups (TS 24.301 §4.1).
func (s *ContextStore) Remove(ueID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.byUEID[ueID]
	if !ok {
		return
	}
	delete(s.byUEID, ueID)
	if ctx.GUTI != nil {
		if existing, ok := s.byGUTI[*ctx.GUTI]; ok && existing == ctx {
			delete(s.byGUTI, *ctx.GUTI)
		}
	}
}

// RebindUEID moves ctx from key `old` to key `new` (GUTI-based re-attach on
// a new lower-layer identifier, TS 24.301 §4.1, §4.4 step 3, law "GUTI
// rebinding"). The observer fires before the remove/insert pair so
// external subscribers (e.g. an AS correlation table) can follow along.
func (s *ContextStore) RebindUEID(old, new uint32) {
	s.mu.Lock()
	observer := s.observer
	ctx, ok := s.byUEID[old]
	s.mu.Unlock()
	if !ok {
		return
	}

	if observer != nil {
		observer(old, new)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUEID, old)
	ctx.UEID = new
	s.byUEID[new] = ctx
}

// All returns every live context — used by the admin introspection surface.
func (s *ContextStore) All() []*EMMContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*EMMContext, 0, len(s.byUEID))
	for _, ctx := range s.byUEID {
		out = append(out, ctx)
	}
	return out
}

// Len reports the number of live contexts.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUEID)
}
