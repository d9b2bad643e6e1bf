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
	"sync/atomic"
)

// jmp qword ptr [rip+0]; dq target
const absJumpSize = 14

var (
	ErrHooksUnsupported = errors.New("hooks are not supported on this platform")
	ErrNoTrampoline     = errors.New("trampoline is not set")
)

type DetourInstallError struct {
	Target uintptr
	Err    error
}

func (e *DetourInstallError) Error() string {
	return fmt.Sprintf("cannot install detour at %x: %s", e.Target, e.Err)
}

func (e *DetourInstallError) Unwrap() error {
	return e.Err
}

func absJump(to uintptr) []byte {
	buf := []byte{
		/*  0 */ 0xFF, 0x25, 0x00, 0x00, 0x00, 0x00, // jmp [rip+0]
		/*  6 */ 0, 0, 0, 0, 0, 0, 0, 0, // target
	}
	binary.LittleEndian.PutUint64(buf[6:], uint64(to))
	return buf
}

// Detour redirects a function entry to a hook. The stolen bytes are
// relocated to a trampoline, so the hook can still run the original.
type Detour struct {
	target     uintptr
	hook       uintptr
	trampoline uintptr
	stolen     int
	redirect   *Patch
}

// InstallDetour prepares the trampoline and the redirection but does
// not enable it. The first stolen bytes at target must be whole
// position independent instructions.
func InstallDetour(mem Memory, target, hook uintptr, stolen int) (*Detour, error) {
	if hook == 0 {
		return nil, &DetourInstallError{Target: target, Err: errors.New("hook is nil")}
	}
	if stolen < absJumpSize {
		return nil, &DetourInstallError{
			Target: target,
			Err:    fmt.Errorf("need at least %d stolen bytes, got %d", absJumpSize, stolen),
		}
	}

	orig, err := mem.Read(target, stolen)
	if err != nil {
		return nil, &DetourInstallError{Target: target, Err: err}
	}

	code := append(orig, absJump(target+uintptr(stolen))...)
	trampoline, err := mem.MakeExecPage(code)
	if err != nil {
		return nil, &DetourInstallError{Target: target, Err: fmt.Errorf("cannot create trampoline: %w", err)}
	}

	redirect := absJump(hook)
	for len(redirect) < stolen {
		redirect = append(redirect, 0x90) // NOP
	}

	return &Detour{
		target:     target,
		hook:       hook,
		trampoline: trampoline,
		stolen:     stolen,
		redirect:   NewPatch(mem, target, redirect),
	}, nil
}

func (d *Detour) Enable() error {
	return d.redirect.Enable()
}

func (d *Detour) Disable() error {
	return d.redirect.Disable()
}

func (d *Detour) Enabled() bool {
	return d.redirect.Enabled()
}

func (d *Detour) Target() uintptr {
	return d.target
}

func (d *Detour) Hook() uintptr {
	return d.hook
}

// Trampoline runs the original function. It stays valid after the
// detour is disabled since a call may still be executing it.
func (d *Detour) Trampoline() uintptr {
	return d.trampoline
}

func (d *Detour) String() string {
	return fmt.Sprintf("detour %x -> %x", d.target, d.hook)
}

// HookSlot is how a hook reaches its trampoline. It is filled before the
// detour is enabled.
type HookSlot struct {
	trampoline atomic.Uintptr
}

func (s *HookSlot) Bind(d *Detour) {
	s.trampoline.Store(d.Trampoline())
}

func (s *HookSlot) Trampoline() uintptr {
	return s.trampoline.Load()
}

// CallOriginal invokes the trampoline bound to the slot.
func (s *HookSlot) CallOriginal(args ...uintptr) (uintptr, error) {
	return CallNative(s.Trampoline(), args...)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
