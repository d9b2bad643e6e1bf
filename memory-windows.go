//go:build windows
// +build windows

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
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var ERROR_OKAY syscall.Errno = 0

func S(input string) *uint16 {
	u, err := syscall.UTF16FromString(input)
	if err != nil {
		panic(err)
	}

	return &u[0]
}

// processMemory patches the current process in place.
type processMemory struct {
	hProcess              windows.Handle
	FlushInstructionCache *windows.LazyProc
}

func newProcessMemory() (*processMemory, error) {
	kernel32 := windows.NewLazySystemDLL("kernel32.dll")
	err := kernel32.Load()
	if err != nil {
		return nil, err
	}

	fic := kernel32.NewProc("FlushInstructionCache")
	err = fic.Find()
	if err != nil {
		return nil, fmt.Errorf("could not find FlushInstructionCache: %w", err)
	}

	return &processMemory{
		hProcess:              windows.CurrentProcess(),
		FlushInstructionCache: fic,
	}, nil
}

func (p *processMemory) bytes(ptr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
}

func (p *processMemory) Read(ptr uintptr, size int) ([]byte, error) {
	if ptr == 0 {
		return nil, fmt.Errorf("%w: %x+%d", ErrUnmapped, ptr, size)
	}
	buf := make([]byte, size)
	copy(buf, p.bytes(ptr, size))
	return buf, nil
}

func (p *processMemory) View(ptr uintptr, size int) ([]byte, error) {
	if ptr == 0 {
		return nil, fmt.Errorf("%w: %x+%d", ErrUnmapped, ptr, size)
	}
	return p.bytes(ptr, size), nil
}

func (p *processMemory) Write(ptr uintptr, buf []byte) error {
	var old uint32
	err := windows.VirtualProtect(ptr, uintptr(len(buf)), windows.PAGE_EXECUTE_READWRITE, &old)
	if err != nil {
		return &PermissionError{Addr: ptr, Size: len(buf), Err: err}
	}

	copy(p.bytes(ptr, len(buf)), buf)

	err = windows.VirtualProtect(ptr, uintptr(len(buf)), old, &old)
	if err != nil {
		return &PermissionError{Addr: ptr, Size: len(buf), Err: err}
	}

	r, _, err := p.FlushInstructionCache.Call(uintptr(p.hProcess), ptr, uintptr(len(buf)))
	if r == 0 && err != nil && err != ERROR_OKAY {
		return fmt.Errorf("cannot flush instruction cache at %x: %w", ptr, err)
	}

	return nil
}

func (p *processMemory) MakeExecPage(code []byte) (uintptr, error) {
	page, err := windows.VirtualAlloc(
		0,
		uintptr(pageRound(len(code)+1)),
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_EXECUTE_READWRITE,
	)
	if err != nil && err != ERROR_OKAY {
		return 0, fmt.Errorf("could not allocate the executable page: %w", err)
	}

	copy(p.bytes(page, len(code)), code)
	p.FlushInstructionCache.Call(uintptr(p.hProcess), page, uintptr(len(code)))

	return page, nil
}

func (p *processMemory) Store32(ptr uintptr, v uint32) error {
	if ptr%4 != 0 {
		return fmt.Errorf("unaligned 32-bit store at %x", ptr)
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(ptr)), v)
	return nil
}

// AttachSelf returns the image of a module loaded into the current
// process. An empty name selects the main executable.
func AttachSelf(name string) (*MemoryRegion, error) {
	mem, err := newProcessMemory()
	if err != nil {
		return nil, err
	}

	var moduleName *uint16
	if name != "" {
		moduleName = S(name)
	}

	var module windows.Handle
	err = windows.GetModuleHandleEx(0, moduleName, &module)
	if err != nil {
		return nil, fmt.Errorf("cannot find module %q: %w", name, err)
	}

	var mi windows.ModuleInfo
	err = windows.GetModuleInformation(mem.hProcess, module, &mi, uint32(unsafe.Sizeof(mi)))
	if err != nil {
		return nil, fmt.Errorf("cannot get module information for %q: %w", name, err)
	}

	return NewMemoryRegion(mem, mi.BaseOfDll, int(mi.SizeOfImage)), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
