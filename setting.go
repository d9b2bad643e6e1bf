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
)

type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

type Value interface {
	bool | Number
}

// Defaults pairs the value the tool prefers with the value the host
// behaves like when unmodified.
type Defaults[T Value] struct {
	Default T
	Vanilla T
}

func NewDefaults[T Value](def, vanilla T) Defaults[T] {
	return Defaults[T]{Default: def, Vanilla: vanilla}
}

// SettingBehavior maps a setting value onto effects.
type SettingBehavior[T Value] interface {
	// Apply moves every effect to the state for value. On failure the
	// effects are left as they were before the call.
	Apply(value T) error
	Render(ui UI, label, tooltip string, value T, defaults Defaults[T]) (T, bool)
	Effects() []Effect
}

type validator[T Value] interface {
	Validate(value T) error
}

// SettingUntyped is what a tweak keeps in its list of settings.
type SettingUntyped interface {
	Label() string
	Key() string
	Render(ui UI) error
	ResetToDefault() error
	ResetToVanilla() error
	LoadConfig(t Table) error
	SaveConfig(t Table)
	SetRaw(raw interface{}) error
	Value() interface{}
	Effects() []Effect
}

// Setting is a value observed through its behavior. The value changes
// only when the behavior applied it successfully.
type Setting[T Value] struct {
	label    string
	tooltip  string
	key      string
	value    T
	defaults Defaults[T]
	behavior SettingBehavior[T]
}

func newSetting[T Value](label, tooltip, key string, defaults Defaults[T], behavior SettingBehavior[T]) *Setting[T] {
	return &Setting[T]{
		label:    label,
		tooltip:  tooltip,
		key:      key,
		value:    defaults.Default,
		defaults: defaults,
		behavior: behavior,
	}
}

func (s *Setting[T]) Label() string {
	return s.label
}

func (s *Setting[T]) Key() string {
	return s.key
}

func (s *Setting[T]) Get() T {
	return s.value
}

func (s *Setting[T]) Value() interface{} {
	return s.value
}

func (s *Setting[T]) Defaults() Defaults[T] {
	return s.defaults
}

func (s *Setting[T]) Effects() []Effect {
	return s.behavior.Effects()
}

func (s *Setting[T]) Set(value T) error {
	err := s.behavior.Apply(value)
	if err != nil {
		return fmt.Errorf("cannot set %q to %v: %w", s.label, value, err)
	}
	s.value = value
	return nil
}

func (s *Setting[T]) SetRaw(raw interface{}) error {
	v, err := convertValue[T](raw)
	if err != nil {
		return err
	}
	err = s.validate(v)
	if err != nil {
		return err
	}
	return s.Set(v)
}

func (s *Setting[T]) validate(v T) error {
	if val, ok := s.behavior.(validator[T]); ok {
		return val.Validate(v)
	}
	return nil
}

func (s *Setting[T]) Render(ui UI) error {
	v, changed := s.behavior.Render(ui, s.label, s.tooltip, s.value, s.defaults)
	if !changed {
		return nil
	}
	return s.Set(v)
}

func (s *Setting[T]) ResetToDefault() error {
	return s.Set(s.defaults.Default)
}

func (s *Setting[T]) ResetToVanilla() error {
	return s.Set(s.defaults.Vanilla)
}

// LoadConfig applies the persisted value, if there is one. A value of
// the wrong type leaves the setting untouched.
func (s *Setting[T]) LoadConfig(t Table) error {
	if s.key == "" {
		return nil
	}
	raw, ok := t.Get(s.key)
	if !ok {
		return nil
	}
	v, err := convertValue[T](raw)
	if err == nil {
		err = s.validate(v)
	}
	if err != nil {
		return &ConfigError{Key: s.key, Err: err}
	}
	return s.Set(v)
}

func (s *Setting[T]) SaveConfig(t Table) {
	if s.key == "" {
		return
	}
	t.Set(s.key, s.value)
}

func tooltipText(tooltip string, defaults interface{ describe() string }) string {
	if tooltip != "" {
		tooltip += "\n"
	}
	return tooltip + defaults.describe()
}

func (d Defaults[T]) describe() string {
	return fmt.Sprintf("(default: %v, vanilla: %v)", d.Default, d.Vanilla)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
