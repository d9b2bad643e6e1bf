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
	"log"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	MEM_COMMIT_RESERVE = windows.MEM_COMMIT | windows.MEM_RESERVE
	injectAccess       = windows.PROCESS_CREATE_THREAD |
		windows.PROCESS_QUERY_INFORMATION |
		windows.PROCESS_VM_OPERATION |
		windows.PROCESS_VM_WRITE |
		windows.PROCESS_VM_READ
)

type injector struct {
	VirtualAllocEx     *windows.LazyProc
	VirtualFreeEx      *windows.LazyProc
	WriteProcessMemory *windows.LazyProc
	CreateRemoteThread *windows.LazyProc
	GetExitCodeThread  *windows.LazyProc
	LoadLibraryW       *windows.LazyProc
}

func newInjector() (*injector, error) {
	kernel32 := windows.NewLazySystemDLL("kernel32.dll")
	err := kernel32.Load()
	if err != nil {
		return nil, err
	}

	inj := &injector{
		VirtualAllocEx:     kernel32.NewProc("VirtualAllocEx"),
		VirtualFreeEx:      kernel32.NewProc("VirtualFreeEx"),
		WriteProcessMemory: kernel32.NewProc("WriteProcessMemory"),
		CreateRemoteThread: kernel32.NewProc("CreateRemoteThread"),
		GetExitCodeThread:  kernel32.NewProc("GetExitCodeThread"),
		LoadLibraryW:       kernel32.NewProc("LoadLibraryW"),
	}
	for _, proc := range []*windows.LazyProc{
		inj.VirtualAllocEx,
		inj.VirtualFreeEx,
		inj.WriteProcessMemory,
		inj.CreateRemoteThread,
		inj.GetExitCodeThread,
		inj.LoadLibraryW,
	} {
		err = proc.Find()
		if err != nil {
			return nil, fmt.Errorf("could not find %s: %w", proc.Name, err)
		}
	}
	return inj, nil
}

// InjectDLL makes process pid load dllPath by running LoadLibraryW on a
// remote thread. kernel32 sits at the same address in every process of
// a session, so the local address of LoadLibraryW is valid remotely.
func InjectDLL(pid int32, dllPath string) error {
	inj, err := newInjector()
	if err != nil {
		return err
	}

	name, err := syscall.UTF16FromString(dllPath)
	if err != nil {
		return err
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&name[0])), len(name)*2)

	hProcess, err := windows.OpenProcess(injectAccess, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("cannot open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(hProcess)

	remote, _, err := inj.VirtualAllocEx.Call(
		uintptr(hProcess),
		0,
		uintptr(len(buf)),
		MEM_COMMIT_RESERVE,
		windows.PAGE_READWRITE,
	)
	if remote == 0 {
		return fmt.Errorf("cannot allocate %d bytes in process %d: %w", len(buf), pid, err)
	}
	defer inj.VirtualFreeEx.Call(uintptr(hProcess), remote, 0, windows.MEM_RELEASE)

	var written uintptr
	ok, _, err := inj.WriteProcessMemory.Call(
		uintptr(hProcess),
		remote,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&written)),
	)
	if ok == 0 || written != uintptr(len(buf)) {
		return fmt.Errorf("cannot write dll path: %w", err)
	}

	threadHandle, _, err := inj.CreateRemoteThread.Call(
		uintptr(hProcess),
		0,
		0,
		inj.LoadLibraryW.Addr(),
		remote,
		0,
		0,
	)
	if threadHandle == 0 {
		return fmt.Errorf("cannot create remote thread: %w", err)
	}
	defer windows.CloseHandle(windows.Handle(threadHandle))

	log.Printf("waiting for LoadLibraryW in process %d", pid)
	_, err = windows.WaitForSingleObject(windows.Handle(threadHandle), windows.INFINITE)
	if err != nil {
		return fmt.Errorf("cannot wait for remote thread: %w", err)
	}

	var exitCode uint32
	ok, _, err = inj.GetExitCodeThread.Call(threadHandle, uintptr(unsafe.Pointer(&exitCode)))
	if ok == 0 {
		return fmt.Errorf("cannot get remote thread exit code: %w", err)
	}
	if exitCode == 0 {
		return fmt.Errorf("LoadLibraryW(%q) failed in process %d", dllPath, pid)
	}

	return nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
