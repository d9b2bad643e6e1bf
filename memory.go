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
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Memory is the only place where raw addresses are dereferenced.
type Memory interface {
	Read(ptr uintptr, size int) ([]byte, error)
	Write(ptr uintptr, buf []byte) error
	// View returns the bytes at ptr without copying. Callers must not
	// modify the result.
	View(ptr uintptr, size int) ([]byte, error)
	MakeExecPage(code []byte) (uintptr, error)
	Store32(ptr uintptr, v uint32) error
}

var ErrUnmapped = errors.New("address range is not mapped")

type PermissionError struct {
	Addr uintptr
	Size int
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("cannot change protection of %x+%d: %s", e.Addr, e.Size, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

const pageSize = 4096

func pageRound(n int) int {
	n += pageSize - 1
	return n - n%pageSize
}

type imageBlock struct {
	base uintptr
	data []byte
}

// ImageMemory is a module image held in a byte slice at a chosen base
// address. Exec pages are allocated above the image.
type ImageMemory struct {
	mu     sync.Mutex
	blocks []imageBlock
	next   uintptr
}

func NewImageMemory(base uintptr, data []byte) *ImageMemory {
	m := &ImageMemory{
		blocks: []imageBlock{{base: base, data: data}},
	}
	m.next = base + uintptr(pageRound(len(data))) + 16*pageSize
	return m
}

func (m *ImageMemory) slice(ptr uintptr, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %x%+d", ErrUnmapped, ptr, size)
	}
	i := sort.Search(len(m.blocks), func(i int) bool {
		b := m.blocks[i]
		return b.base+uintptr(len(b.data)) > ptr
	})
	if i == len(m.blocks) {
		return nil, fmt.Errorf("%w: %x+%d", ErrUnmapped, ptr, size)
	}
	b := m.blocks[i]
	if ptr < b.base || ptr+uintptr(size) > b.base+uintptr(len(b.data)) {
		return nil, fmt.Errorf("%w: %x+%d", ErrUnmapped, ptr, size)
	}
	off := int(ptr - b.base)
	return b.data[off : off+size], nil
}

func (m *ImageMemory) Read(ptr uintptr, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.slice(ptr, size)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	copy(buf, src)
	return buf, nil
}

func (m *ImageMemory) Write(ptr uintptr, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dst, err := m.slice(ptr, len(buf))
	if err != nil {
		return &PermissionError{Addr: ptr, Size: len(buf), Err: err}
	}
	copy(dst, buf)
	return nil
}

func (m *ImageMemory) View(ptr uintptr, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.slice(ptr, size)
}

func (m *ImageMemory) MakeExecPage(code []byte) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := make([]byte, pageRound(len(code)+1))
	copy(page, code)
	addr := m.next
	m.blocks = append(m.blocks, imageBlock{base: addr, data: page})
	m.next += uintptr(len(page))
	return addr, nil
}

func (m *ImageMemory) Store32(ptr uintptr, v uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dst, err := m.slice(ptr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst, v)
	return nil
}

// Image returns the bytes of the main image, including applied patches.
func (m *ImageMemory) Image() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blocks[0].data
}

func (m *ImageMemory) Region() *MemoryRegion {
	return NewMemoryRegion(m, m.blocks[0].base, len(m.blocks[0].data))
}

// vim: ai:ts=8:sw=8:noet:syntax=go
