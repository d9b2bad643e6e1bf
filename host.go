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
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/yookoala/realpath"
)

const hostProcess = "stormworks64.exe"

var (
	ErrWrongHost      = errors.New("wrong host process")
	ErrHostNotRunning = errors.New("host process is not running")
)

// CheckHost verifies that the current process is the expected game.
func CheckHost(name string) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("cannot inspect own process: %w", err)
	}
	exe, err := p.Name()
	if err != nil {
		return fmt.Errorf("cannot get process name: %w", err)
	}
	if !strings.EqualFold(filepath.Base(exe), name) {
		return fmt.Errorf("%w: %q is not %q", ErrWrongHost, exe, name)
	}
	return nil
}

// FindProcess returns the pid of the first running process called name.
func FindProcess(name string) (int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, fmt.Errorf("cannot list processes: %w", err)
	}
	for _, p := range procs {
		exe, err := p.Name()
		if err != nil {
			continue
		}
		if strings.EqualFold(exe, name) {
			return p.Pid, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrHostNotRunning, name)
}

// moduleBeside resolves name in the directory of the running executable.
func moduleBeside(name string) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(exe)
	if real, err := realpath.Realpath(dir); err == nil {
		dir = real
	}
	path := filepath.Join(dir, name)
	_, err = os.Stat(path)
	if err != nil {
		return "", err
	}
	return path, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
