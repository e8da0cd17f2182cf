package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"go.uber.org/multierr"

	"nosbind/config"
	"nosbind/hooks"
	"nosbind/memory"
	"nosbind/scanner"
)

// section is one section of the executable as it sits in memory.
type section struct {
	name string
	rva  uint32
	data []byte
}

type finding struct {
	kind    string
	name    string
	pattern string
	found   bool
	offset  int
	address uintptr
	// static is the global the instruction refers to, for objects only.
	static uintptr
}

// mapSections lays the sections out the way the loader would, headers and
// gaps zeroed, so the whole module reads as one block.
func mapSections(base uintptr, name string, sections []section) (*memory.Image, scanner.Module) {
	size := 0
	for _, s := range sections {
		size = max(size, int(s.rva)+len(s.data))
	}
	buf := make([]byte, size)
	for _, s := range sections {
		copy(buf[s.rva:], s.data)
	}

	img := memory.NewImage()
	img.Map(base, buf)
	return img, scanner.Module{Name: name, Base: base, Size: size}
}

// scanAll runs every hook and object pattern of cfg. A bad pattern does not
// stop the others.
func scanAll(sc *scanner.Scanner, mem memory.Reader, cfg config.Config) ([]finding, error) {
	var (
		out  []finding
		errs error
	)
	for _, name := range hooks.Names() {
		opts := hooks.Slot(&cfg.Hooks, name)
		res, err := sc.FindPattern(opts.Pattern)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		f := finding{kind: "hook", name: name, pattern: opts.Pattern, found: res.Found, offset: res.Offset}
		if res.Found {
			f.address = res.Address(sc.Module(), opts.Offset)
		}
		out = append(out, f)
	}

	objects := []struct {
		name string
		opts config.ObjectOptions
	}{
		{"NetworkManager", cfg.Browser.NetworkManager},
		{"UnitManager", cfg.Browser.UnitManager},
		{"PlayerManager", cfg.Browser.PlayerManager},
		{"PetManagerList", cfg.Browser.PetManagerList},
	}
	for _, o := range objects {
		res, err := sc.FindPattern(o.opts.Pattern)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", o.name, err))
			continue
		}
		f := finding{kind: "object", name: o.name, pattern: o.opts.Pattern, found: res.Found, offset: res.Offset}
		if res.Found {
			f.address = res.Address(sc.Module(), 0)
			if len(o.opts.Offsets) > 0 {
				// the first link is read out of the instruction itself
				static, err := memory.ReadPtr(mem, f.address+uintptr(o.opts.Offsets[0]))
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", o.name, err))
				}
				f.static = static
			}
		}
		out = append(out, f)
	}
	return out, errs
}

func report(w io.Writer, findings []finding) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tOFFSET\tADDRESS\tSTATIC")
	for _, f := range findings {
		if !f.found {
			fmt.Fprintf(tw, "%s\t%s\tnot found\t-\t-\n", f.kind, f.name)
			continue
		}
		static := "-"
		if f.static != 0 {
			static = fmt.Sprintf("0x%08X", f.static)
		}
		fmt.Fprintf(tw, "%s\t%s\t0x%X\t0x%08X\t%s\n", f.kind, f.name, f.offset, f.address, static)
	}
	return tw.Flush()
}
