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

// Effect is a reversible modification of the host. Enable and Disable
// are idempotent.
type Effect interface {
	Enable() error
	Disable() error
	Enabled() bool
}

func setEffect(e Effect, on bool) error {
	if on {
		return e.Enable()
	}
	return e.Disable()
}

// binding drives an effect from a boolean value, optionally inverted.
type binding struct {
	effect Effect
	invert bool
}

type transition struct {
	effect Effect
	was    bool
}

// switchEffects enables or disables every bound effect. When one of
// them fails, the transitions already made are undone in reverse order.
func switchEffects(bindings []binding, value bool) error {
	var done []transition
	for _, b := range bindings {
		want := value != b.invert
		was := b.effect.Enabled()
		if was == want {
			continue
		}
		err := setEffect(b.effect, want)
		if err != nil {
			return rollbackEffects(done, err)
		}
		done = append(done, transition{effect: b.effect, was: was})
	}
	return nil
}

func rollbackEffects(done []transition, cause error) error {
	errs := []error{cause}
	for i := len(done) - 1; i >= 0; i-- {
		t := done[i]
		err := setEffect(t.effect, t.was)
		if err != nil {
			errs = append(errs, fmt.Errorf("cannot roll back %v: %w", t.effect, err))
		}
	}
	return errors.Join(errs...)
}

// disableAll turns off every effect, collecting the failures.
func disableAll(effects []Effect) error {
	var errs []error
	for _, e := range effects {
		err := e.Disable()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
