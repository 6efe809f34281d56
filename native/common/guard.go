package common

import (
	"sort"
	"strings"
	"sync"

	"fixedlend/native/lending"
)

var ErrModulePaused = lending.ErrPaused

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a PauseView whose switches are flipped by capability holders.
// Module names are case-insensitive, e.g. "market.weth" or "market.weth.borrow".
type Pauses struct {
	mu        sync.RWMutex
	authority *Authority
	paused    map[string]bool
}

// NewPauses returns an empty pause set governed by authority.
func NewPauses(authority *Authority) *Pauses {
	return &Pauses{authority: authority, paused: make(map[string]bool)}
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[strings.ToLower(module)]
}

// Set flips the pause switch for module.
func (p *Pauses) Set(cap Capability, module string, paused bool) error {
	if err := p.authority.Verify(cap); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(module))
	if paused {
		p.paused[key] = true
	} else {
		delete(p.paused, key)
	}
	return nil
}

// List returns the paused modules in sorted order.
func (p *Pauses) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.paused))
	for k := range p.paused {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
