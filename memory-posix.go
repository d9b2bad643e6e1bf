//go:build !windows
// +build !windows

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
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/yookoala/realpath"
	"golang.org/x/sys/unix"
)

type mapping struct {
	from, to uintptr
	prot     int
	path     string
}

func parseProt(perms string) int {
	prot := unix.PROT_NONE
	if strings.HasPrefix(perms, "r") {
		prot |= unix.PROT_READ
	}
	if len(perms) > 1 && perms[1] == 'w' {
		prot |= unix.PROT_WRITE
	}
	if len(perms) > 2 && perms[2] == 'x' {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func readMaps() ([]mapping, error) {
	mapsBuf, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return nil, err
	}

	var maps []mapping
	for _, line := range strings.Split(string(mapsBuf), "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		flds := strings.Fields(line)
		if len(flds) < 5 {
			continue
		}

		var m mapping
		_, err = fmt.Sscanf(flds[0], "%x-%x", &m.from, &m.to)
		if err != nil {
			continue
		}
		m.prot = parseProt(flds[1])
		if len(flds) > 5 {
			m.path = flds[5]
		}
		maps = append(maps, m)
	}

	return maps, nil
}

// processMemory patches the current process in place. Protection is
// restored from the flags recorded in /proc/self/maps.
type processMemory struct {
	mu    sync.Mutex
	maps  []mapping
	pages [][]byte
}

func newProcessMemory() (*processMemory, error) {
	maps, err := readMaps()
	if err != nil {
		return nil, fmt.Errorf("cannot read memory map: %w", err)
	}
	return &processMemory{maps: maps}, nil
}

func (p *processMemory) find(addr uintptr) (mapping, bool) {
	for _, m := range p.maps {
		if addr >= m.from && addr < m.to {
			return m, true
		}
	}
	return mapping{}, false
}

func (p *processMemory) bytes(ptr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
}

func (p *processMemory) covered(ptr uintptr, size int) bool {
	for addr := ptr; addr < ptr+uintptr(size); {
		m, ok := p.find(addr)
		if !ok || m.prot&unix.PROT_READ == 0 {
			return false
		}
		addr = m.to
	}
	return true
}

func (p *processMemory) Read(ptr uintptr, size int) ([]byte, error) {
	buf, err := p.View(ptr, size)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf...), nil
}

func (p *processMemory) View(ptr uintptr, size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.covered(ptr, size) {
		return nil, fmt.Errorf("%w: %x+%d", ErrUnmapped, ptr, size)
	}
	return p.bytes(ptr, size), nil
}

func (p *processMemory) Write(ptr uintptr, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	first := ptr &^ (pageSize - 1)
	last := (ptr + uintptr(len(buf)) + pageSize - 1) &^ (pageSize - 1)

	type restore struct {
		page []byte
		prot int
	}
	var restores []restore
	defer func() {
		for _, r := range restores {
			err := unix.Mprotect(r.page, r.prot)
			if err != nil {
				log.Printf("cannot restore protection at %p: %s", &r.page[0], err)
			}
		}
	}()

	for addr := first; addr < last; addr += pageSize {
		m, ok := p.find(addr)
		if !ok {
			return &PermissionError{Addr: ptr, Size: len(buf), Err: ErrUnmapped}
		}
		page := p.bytes(addr, pageSize)
		err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
		if err != nil {
			return &PermissionError{Addr: ptr, Size: len(buf), Err: err}
		}
		restores = append(restores, restore{page: page, prot: m.prot})
	}

	copy(p.bytes(ptr, len(buf)), buf)

	return nil
}

func (p *processMemory) MakeExecPage(code []byte) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	page, err := unix.Mmap(
		-1,
		0,
		pageRound(len(code)+1),
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return 0, fmt.Errorf("could not allocate the executable page: %w", err)
	}
	copy(page, code)
	p.pages = append(p.pages, page)

	addr := uintptr(unsafe.Pointer(&page[0]))
	p.maps = append(p.maps, mapping{
		from: addr,
		to:   addr + uintptr(len(page)),
		prot: unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC,
	})

	return addr, nil
}

func (p *processMemory) Store32(ptr uintptr, v uint32) error {
	if ptr%4 != 0 {
		return fmt.Errorf("unaligned 32-bit store at %x", ptr)
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(ptr)), v)
	return nil
}

// AttachSelf returns the image of a module mapped into the current
// process. An empty name selects the main executable.
func AttachSelf(name string) (*MemoryRegion, error) {
	mem, err := newProcessMemory()
	if err != nil {
		return nil, err
	}

	target := name
	if target == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("cannot find executable: %w", err)
		}
		target, err = realpath.Realpath(exe)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve %q: %w", exe, err)
		}
	}

	var from, to uintptr
	for _, m := range mem.maps {
		if m.path != target && filepath.Base(m.path) != target {
			continue
		}
		if from == 0 {
			from = m.from
		} else if m.from != to {
			break
		}
		to = m.to
	}
	if from == 0 {
		return nil, fmt.Errorf("cannot find module %q in memory map", target)
	}

	return NewMemoryRegion(mem, from, int(to-from)), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
