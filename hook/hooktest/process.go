// Package hooktest simulates a target process for code built on hook.
//
// Functions are defined at addresses with a Go body. Call invokes an address
// the way the client would, so an active splice routes the call through the
// installed detour or predicate. Original calls bypass the splice.
package hooktest

import (
	"fmt"
	"sync"

	"nosbind/hook"
)

// Body implements a simulated native function.
type Body func(args []uintptr) uintptr

type function struct {
	conv  hook.Convention
	body  Body
	calls int

	splice *splice
}

type Process struct {
	mu    sync.Mutex
	funcs map[uintptr]*function
}

var _ hook.Backend = (*Process)(nil)

func New() *Process {
	return &Process{funcs: make(map[uintptr]*function)}
}

// Define places a function at addr, replacing any earlier definition.
func (p *Process) Define(addr uintptr, conv hook.Convention, body Body) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funcs[addr] = &function{conv: conv, body: body}
}

func (p *Process) lookup(addr uintptr) *function {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.funcs[addr]
	if !ok {
		panic(fmt.Sprintf("hooktest: no function at 0x%X", addr))
	}
	return f
}

// Call invokes addr as the client would. Blocked cancelable calls return 0.
func (p *Process) Call(addr uintptr, args ...uintptr) uintptr {
	f := p.lookup(addr)
	if len(args) != f.conv.Arity() {
		panic(fmt.Sprintf("hooktest: 0x%X takes %d arguments, got %d", addr, f.conv.Arity(), len(args)))
	}

	p.mu.Lock()
	s := f.splice
	active := s != nil && s.active
	p.mu.Unlock()

	if !active {
		return p.original(f, args)
	}
	if s.entry.Predicate != nil {
		if !s.entry.Predicate(args) {
			return 0
		}
		return p.original(f, args)
	}
	return s.entry.Detour(args)
}

func (p *Process) original(f *function, args []uintptr) uintptr {
	p.mu.Lock()
	f.calls++
	p.mu.Unlock()
	return f.body(args)
}

// Calls counts how often the body at addr ran.
func (p *Process) Calls(addr uintptr) int {
	f := p.lookup(addr)
	p.mu.Lock()
	defer p.mu.Unlock()
	return f.calls
}

// Spliced reports whether an active splice sits on addr.
func (p *Process) Spliced(addr uintptr) bool {
	f := p.lookup(addr)
	p.mu.Lock()
	defer p.mu.Unlock()
	return f.splice != nil && f.splice.active
}

func (p *Process) Splice(target uintptr, conv hook.Convention, entry hook.Entry) (hook.Splice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.funcs[target]
	if !ok {
		return nil, fmt.Errorf("no code at 0x%X", target)
	}
	if f.conv.Arity() != conv.Arity() {
		return nil, fmt.Errorf("0x%X takes %d arguments, hook declares %d", target, f.conv.Arity(), conv.Arity())
	}
	if f.splice != nil {
		return nil, fmt.Errorf("0x%X is already spliced", target)
	}
	s := &splice{p: p, f: f, entry: entry}
	f.splice = s
	return s, nil
}

type splice struct {
	p        *Process
	f        *function
	entry    hook.Entry
	active   bool
	released bool
}

func (s *splice) Activate() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.released {
		return fmt.Errorf("splice released")
	}
	s.active = true
	return nil
}

func (s *splice) Deactivate() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.active = false
	return nil
}

func (s *splice) Original() hook.NativeFunc {
	return func(args ...uintptr) uintptr { return s.p.original(s.f, args) }
}

func (s *splice) Release() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.active = false
	s.released = true
	if s.f.splice == s {
		s.f.splice = nil
	}
	return nil
}
