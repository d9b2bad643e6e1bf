/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoMatches       = errors.New("no matches")
	ErrMultipleMatches = errors.New("multiple matches")
	ErrOutOfRegion     = errors.New("address is outside of the region")
)

// MemoryRegion is the scanned module image. It is created once and
// borrowed by every tweak constructor.
type MemoryRegion struct {
	Base uintptr
	Size int
	mem  Memory
}

func NewMemoryRegion(mem Memory, base uintptr, size int) *MemoryRegion {
	return &MemoryRegion{Base: base, Size: size, mem: mem}
}

func (r *MemoryRegion) Memory() Memory {
	return r.mem
}

func (r *MemoryRegion) End() uintptr {
	return r.Base + uintptr(r.Size)
}

func (r *MemoryRegion) Contains(addr uintptr, n int) bool {
	return addr >= r.Base && n >= 0 && addr+uintptr(n) <= r.End() && addr+uintptr(n) >= addr
}

func (r *MemoryRegion) String() string {
	return fmt.Sprintf("%x-%x", r.Base, r.End())
}

type ScanError struct {
	Pattern *Pattern
	Matches int
}

func (e *ScanError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no matches for pattern %s", e.Pattern)
	}
	return fmt.Sprintf("%d matches for pattern %s", e.Matches, e.Pattern)
}

func (e *ScanError) Unwrap() error {
	if e.Matches == 0 {
		return ErrNoMatches
	}
	return ErrMultipleMatches
}

// ScanAll returns the absolute address of every match, ascending.
func ScanAll(r *MemoryRegion, p *Pattern) ([]uintptr, error) {
	data, err := r.mem.View(r.Base, r.Size)
	if err != nil {
		return nil, fmt.Errorf("cannot view region %s: %w", r, err)
	}
	offs := p.FindAll(data)
	res := make([]uintptr, len(offs))
	for i, off := range offs {
		res[i] = r.Base + uintptr(off)
	}
	return res, nil
}

func ScanSingle(r *MemoryRegion, p *Pattern) (uintptr, error) {
	matches, err := ScanAll(r, p)
	if err != nil {
		return 0, err
	}
	if len(matches) != 1 {
		return 0, &ScanError{Pattern: p, Matches: len(matches)}
	}
	return matches[0], nil
}

// Anchor selects the payload address relative to a match: from the
// match start, or from the point where a payload of the given length
// ends exactly at the end of the pattern.
type Anchor struct {
	fromEnd bool
	offset  int
}

var (
	AtStart = Anchor{}
	AtEnd   = Anchor{fromEnd: true}
)

func AtStartOffset(n int) Anchor {
	return Anchor{offset: n}
}

func AtEndOffset(n int) Anchor {
	return Anchor{fromEnd: true, offset: n}
}

func (a Anchor) Resolve(match uintptr, patternLen, payloadLen int) uintptr {
	off := a.offset
	if a.fromEnd {
		off += patternLen - payloadLen
	}
	return match + uintptr(off)
}

func (a Anchor) String() string {
	s := "start"
	if a.fromEnd {
		s = "end"
	}
	if a.offset > 0 {
		s += "+" + strconv.Itoa(a.offset)
	} else if a.offset < 0 {
		s += strconv.Itoa(a.offset)
	}
	return s
}

func ParseAnchor(s string) (Anchor, error) {
	var a Anchor
	rest := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(rest, "start"):
		rest = rest[len("start"):]
	case strings.HasPrefix(rest, "end"):
		a.fromEnd = true
		rest = rest[len("end"):]
	default:
		return a, fmt.Errorf("invalid anchor %q", s)
	}
	if rest == "" {
		return a, nil
	}
	if rest[0] != '+' && rest[0] != '-' {
		return a, fmt.Errorf("invalid anchor %q", s)
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return a, fmt.Errorf("invalid anchor offset in %q: %w", s, err)
	}
	a.offset = n
	return a, nil
}

// Locate finds the single match of p and resolves the payload address,
// making sure the payload stays inside the region.
func (r *MemoryRegion) Locate(p *Pattern, at Anchor, payloadLen int) (uintptr, error) {
	match, err := ScanSingle(r, p)
	if err != nil {
		return 0, err
	}
	addr := at.Resolve(match, p.Len(), payloadLen)
	if !r.Contains(addr, payloadLen) {
		return 0, fmt.Errorf("%w: %x+%d", ErrOutOfRegion, addr, payloadLen)
	}
	return addr, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
