package scanner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrEmptyPattern = errors.New("empty pattern")

// Pattern is a parsed byte signature. Mask[i] is false for wildcard bytes.
type Pattern struct {
	Bytes []byte
	Mask  []bool
}

// ParsePattern parses "55 8B EC ?? 53". Both "??" and "?" are wildcards.
func ParsePattern(s string) (Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Pattern{}, ErrEmptyPattern
	}

	p := Pattern{
		Bytes: make([]byte, len(fields)),
		Mask:  make([]bool, len(fields)),
	}
	for i, f := range fields {
		if f == "??" || f == "?" {
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return Pattern{}, fmt.Errorf("pattern byte %d %q: %w", i, f, err)
		}
		p.Bytes[i] = byte(v)
		p.Mask[i] = true
	}
	return p, nil
}

func (p Pattern) Len() int { return len(p.Bytes) }

// Match reports whether data starts with the pattern.
func (p Pattern) Match(data []byte) bool {
	if len(data) < len(p.Bytes) {
		return false
	}
	for i, b := range p.Bytes {
		if p.Mask[i] && data[i] != b {
			return false
		}
	}
	return true
}

// Index returns the offset of the first match in data, or -1.
func (p Pattern) Index(data []byte) int {
	last := len(data) - len(p.Bytes)
	for i := 0; i <= last; i++ {
		if p.Match(data[i:]) {
			return i
		}
	}
	return -1
}

func (p Pattern) String() string {
	var sb strings.Builder
	for i, b := range p.Bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if !p.Mask[i] {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
