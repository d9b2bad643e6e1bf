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

func NewHookCallback(fn interface{}) (uintptr, error) {
	return 0, ErrHooksUnsupported
}

func CallNative(fn uintptr, args ...uintptr) (uintptr, error) {
	if fn == 0 {
		return 0, ErrNoTrampoline
	}

	return 0, ErrHooksUnsupported
}

// vim: ai:ts=8:sw=8:noet:syntax=go
