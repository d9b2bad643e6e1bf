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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrOutOfRange = errors.New("value is out of range")

func encodeNumber[N Number](v N) []byte {
	var buf bytes.Buffer
	// fixed size values never fail to encode
	_ = binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func numberSize[N Number]() int {
	var zero N
	return binary.Size(zero)
}

func isInteger[N Number]() bool {
	half := 0.5
	return N(half) == 0
}

// NumberPatch writes a little-endian number over the bytes it covers.
type NumberPatch[N Number] struct {
	patch *Patch
}

// NewNumberPatch covers the number at addr. Until Set is called it
// holds the bytes currently in memory.
func NewNumberPatch[N Number](mem Memory, addr uintptr) (*NumberPatch[N], error) {
	cur, err := mem.Read(addr, numberSize[N]())
	if err != nil {
		return nil, fmt.Errorf("cannot read number at %x: %w", addr, err)
	}
	return &NumberPatch[N]{patch: NewPatch(mem, addr, cur)}, nil
}

func (np *NumberPatch[N]) Patch() *Patch {
	return np.patch
}

// Set writes v and makes sure the patch is applied.
func (np *NumberPatch[N]) Set(v N) error {
	err := np.patch.SetReplacement(encodeNumber(v))
	if err != nil {
		return err
	}
	return np.patch.Enable()
}

func (np *NumberPatch[N]) Enable() error {
	return np.patch.Enable()
}

func (np *NumberPatch[N]) Disable() error {
	return np.patch.Disable()
}

func (np *NumberPatch[N]) Enabled() bool {
	return np.patch.Enabled()
}

// Slider writes its value into every bound number patch.
type Slider[N Number] struct {
	min, max  N
	patches   []*NumberPatch[N]
	listeners []func(N)
}

type sliderUndo struct {
	patch       *Patch
	replacement []byte
	was         bool
}

func (s *Slider[N]) Apply(value N) error {
	var done []sliderUndo
	for _, np := range s.patches {
		u := sliderUndo{
			patch:       np.patch,
			replacement: np.patch.Replacement(),
			was:         np.patch.Enabled(),
		}
		err := np.patch.SetReplacement(encodeNumber(value))
		if err != nil {
			return s.rollback(done, err)
		}
		done = append(done, u)
		err = np.patch.Enable()
		if err != nil {
			return s.rollback(done, err)
		}
	}
	for _, fn := range s.listeners {
		fn(value)
	}
	return nil
}

func (s *Slider[N]) rollback(done []sliderUndo, cause error) error {
	errs := []error{cause}
	for i := len(done) - 1; i >= 0; i-- {
		u := done[i]
		err := u.patch.SetReplacement(u.replacement)
		if err != nil {
			errs = append(errs, fmt.Errorf("cannot roll back %s: %w", u.patch, err))
			continue
		}
		if !u.was {
			err = u.patch.Disable()
			if err != nil {
				errs = append(errs, fmt.Errorf("cannot roll back %s: %w", u.patch, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Slider[N]) Validate(v N) error {
	if v < s.min || v > s.max {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, v, s.min, s.max)
	}
	return nil
}

func (s *Slider[N]) Render(ui UI, label, tooltip string, value N, defaults Defaults[N]) (N, bool) {
	f := float64(value)
	integer := isInteger[N]()
	changed := ui.Slider(label, &f, float64(s.min), float64(s.max), integer)
	ui.Tooltip(tooltipText(tooltip, defaults))
	if !changed {
		return value, false
	}
	if integer {
		f = math.Round(f)
	}
	// convert only values strictly inside the bounds
	v := s.max
	switch {
	case f <= float64(s.min):
		v = s.min
	case f < float64(s.max):
		v = N(f)
	}
	return v, v != value
}

func (s *Slider[N]) Effects() []Effect {
	effects := make([]Effect, len(s.patches))
	for i, np := range s.patches {
		effects[i] = np
	}
	return effects
}

type SliderBuilder[N Number] struct {
	b        *TweakBuilder
	label    string
	tooltip  string
	key      string
	defaults Defaults[N]
	slider   *Slider[N]
	err      error
}

// NewSlider starts a slider on b.
func NewSlider[N Number](b *TweakBuilder, label string, min, max N, defaults Defaults[N]) *SliderBuilder[N] {
	return &SliderBuilder[N]{
		b:        b,
		label:    label,
		defaults: defaults,
		slider:   &Slider[N]{min: min, max: max},
	}
}

func (sb *SliderBuilder[N]) Tooltip(text string) *SliderBuilder[N] {
	sb.tooltip = text
	return sb
}

func (sb *SliderBuilder[N]) ConfigKey(key string) *SliderBuilder[N] {
	sb.key = key
	return sb
}

func (sb *SliderBuilder[N]) Injection(np *NumberPatch[N]) *SliderBuilder[N] {
	if sb.err != nil {
		return sb
	}
	if np == nil {
		sb.err = errors.New("nil number patch")
		return sb
	}
	sb.slider.patches = append(sb.slider.patches, np)
	return sb
}

func (sb *SliderBuilder[N]) OnValueChanged(fn func(N)) *SliderBuilder[N] {
	sb.slider.listeners = append(sb.slider.listeners, fn)
	return sb
}

func (sb *SliderBuilder[N]) Build() (*Setting[N], error) {
	if sb.err != nil {
		return nil, fmt.Errorf("cannot build slider %q: %w", sb.label, sb.err)
	}
	if sb.slider.min > sb.slider.max {
		return nil, fmt.Errorf("cannot build slider %q: min %v is above max %v", sb.label, sb.slider.min, sb.slider.max)
	}
	for _, v := range []N{sb.defaults.Default, sb.defaults.Vanilla} {
		err := sb.slider.Validate(v)
		if err != nil {
			return nil, fmt.Errorf("cannot build slider %q: %w", sb.label, err)
		}
	}
	s := newSetting[N](sb.label, sb.tooltip, sb.key, sb.defaults, sb.slider)
	err := sb.b.addSetting(s)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
