package session

import (
	"context"
	"sync"
)

// Pointer is the tab-scoped reference to the record a tab currently uses.
// Unlike Store it is never shared between tabs.
type Pointer interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, sessionID string) error
	Clear(ctx context.Context) error
}

// MemoryPointer lives as long as the process that owns it.
type MemoryPointer struct {
	mu        sync.Mutex
	sessionID string
}

var _ Pointer = (*MemoryPointer)(nil)

func NewMemoryPointer() *MemoryPointer {
	return &MemoryPointer{}
}

func (p *MemoryPointer) Get(context.Context) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID, p.sessionID != ""
}

func (p *MemoryPointer) Set(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
	return nil
}

func (p *MemoryPointer) Clear(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = ""
	return nil
}

// Duplicate returns an independent pointer starting at the same session,
// the way a duplicated browser tab inherits its origin's session storage.
func (p *MemoryPointer) Duplicate() *MemoryPointer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &MemoryPointer{sessionID: p.sessionID}
}
