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
)

var ErrLengthMismatch = errors.New("replacement length does not match the patch")

// Patch replaces a fixed range of bytes and can put the original bytes
// back. The original bytes are captured each time the patch is applied.
type Patch struct {
	mem         Memory
	addr        uintptr
	original    []byte
	replacement []byte
	applied     bool
}

func NewPatch(mem Memory, addr uintptr, replacement []byte) *Patch {
	return &Patch{
		mem:         mem,
		addr:        addr,
		replacement: append([]byte(nil), replacement...),
	}
}

func (p *Patch) Address() uintptr {
	return p.addr
}

func (p *Patch) Len() int {
	return len(p.replacement)
}

func (p *Patch) Enabled() bool {
	return p.applied
}

func (p *Patch) Replacement() []byte {
	return append([]byte(nil), p.replacement...)
}

// Original returns the bytes found at the address when the patch was
// last applied, or nil if it never was.
func (p *Patch) Original() []byte {
	if p.original == nil {
		return nil
	}
	return append([]byte(nil), p.original...)
}

func (p *Patch) Enable() error {
	if p.applied {
		return nil
	}

	orig, err := p.mem.Read(p.addr, len(p.replacement))
	if err != nil {
		return fmt.Errorf("cannot read original bytes of %s: %w", p, err)
	}

	err = p.mem.Write(p.addr, p.replacement)
	if err != nil {
		return fmt.Errorf("cannot apply %s: %w", p, err)
	}

	p.original = orig
	p.applied = true
	return nil
}

func (p *Patch) Disable() error {
	if !p.applied {
		return nil
	}

	err := p.mem.Write(p.addr, p.original)
	if err != nil {
		return fmt.Errorf("cannot revert %s: %w", p, err)
	}

	p.applied = false
	return nil
}

// SetReplacement swaps the replacement bytes, rewriting memory right
// away when the patch is applied.
func (p *Patch) SetReplacement(b []byte) error {
	if len(b) != len(p.replacement) {
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(b), len(p.replacement))
	}

	if p.applied {
		err := p.mem.Write(p.addr, b)
		if err != nil {
			return fmt.Errorf("cannot update %s: %w", p, err)
		}
	}

	copy(p.replacement, b)
	return nil
}

func (p *Patch) String() string {
	return fmt.Sprintf("patch at %x+%d", p.addr, len(p.replacement))
}

// vim: ai:ts=8:sw=8:noet:syntax=go
