// Package scanner finds functions and static objects of the client by byte
// signatures, since their addresses move between client builds.
package scanner

import (
	"fmt"
	"sync"

	"nosbind/memory"
)

// Module is a loaded image inside the target.
type Module struct {
	Name string
	Base uintptr
	Size int
}

// Result of a scan. Offset is relative to the module base and only
// meaningful when Found is set.
type Result struct {
	Found  bool
	Offset int
}

// Address turns the match into an absolute address, adding extra.
func (r Result) Address(m Module, extra int) uintptr {
	return m.Base + uintptr(r.Offset+extra)
}

type Scanner struct {
	r      memory.Reader
	module Module

	once  sync.Once
	image []byte
	err   error
}

// New prepares a scanner over module. The image is copied out of the target
// on first use and reused for every later pattern.
func New(r memory.Reader, module Module) *Scanner {
	return &Scanner{r: r, module: module}
}

func (s *Scanner) Module() Module { return s.module }

func (s *Scanner) load() error {
	s.once.Do(func() {
		s.image, s.err = memory.ReadBytes(s.r, s.module.Base, s.module.Size)
		if s.err != nil {
			s.err = fmt.Errorf("snapshot %s: %w", s.module.Name, s.err)
		}
	})
	return s.err
}

// FindPattern looks for the first occurrence of pattern. Not finding it is
// reported through Result.Found; errors are reserved for malformed patterns
// and unreadable images.
func (s *Scanner) FindPattern(pattern string) (Result, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return Result{}, err
	}
	return s.Find(p)
}

func (s *Scanner) Find(p Pattern) (Result, error) {
	if err := s.load(); err != nil {
		return Result{}, err
	}
	off := p.Index(s.image)
	if off < 0 {
		return Result{}, nil
	}
	return Result{Found: true, Offset: off}, nil
}
