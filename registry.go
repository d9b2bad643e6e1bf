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
	"log"
	"strings"
)

type TweakError struct {
	ID  string
	Err error
}

func (e *TweakError) Error() string {
	return fmt.Sprintf("%s: %s", e.ID, e.Err)
}

func (e *TweakError) Unwrap() error {
	return e.Err
}

// Registry owns every tweak that was built successfully and the errors
// of those that were not. Its methods must be called from one goroutine.
type Registry struct {
	region *MemoryRegion
	tweaks []*Tweak
	errors []error
}

func NewRegistry(region *MemoryRegion) *Registry {
	return &Registry{region: region}
}

func (r *Registry) Region() *MemoryRegion {
	return r.region
}

// Build constructs every definition in order and then drives all settings
// to their defaults. A tweak failing either step is left out.
func (r *Registry) Build(defs ...TweakDef) {
	var built []*Tweak
	seen := map[string]bool{}
	for _, t := range r.tweaks {
		seen[t.ID] = true
	}
	for _, def := range defs {
		if seen[def.ID] {
			r.Report(def.ID, fmt.Errorf("duplicate tweak id %q", def.ID))
			continue
		}
		seen[def.ID] = true
		t, err := r.construct(def)
		if err != nil {
			r.Report(def.ID, err)
			continue
		}
		built = append(built, t)
	}

	for _, t := range built {
		err := t.ResetToDefault()
		if err != nil {
			r.Report(t.ID, err)
			uerr := t.Uninit()
			if uerr != nil {
				r.Report(t.ID, uerr)
			}
			continue
		}
		r.tweaks = append(r.tweaks, t)
		log.Printf("tweak %s is ready", t.ID)
	}
}

func (r *Registry) construct(def TweakDef) (t *Tweak, err error) {
	b := newTweakBuilder(r.region, def)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while building: %v", p)
		}
		if err != nil {
			uerr := b.tweak.Uninit()
			if uerr != nil {
				err = errors.Join(err, uerr)
			}
		}
	}()

	err = def.New(b)
	if err != nil {
		return nil, err
	}
	return b.tweak, nil
}

func (r *Registry) Tweaks() []*Tweak {
	return r.tweaks
}

func (r *Registry) Tweak(id string) *Tweak {
	for _, t := range r.tweaks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r *Registry) Errors() []error {
	return r.errors
}

func (r *Registry) ClearErrors() {
	r.errors = nil
}

// Report records a runtime failure of a tweak.
func (r *Registry) Report(id string, err error) {
	var terr *TweakError
	if !errors.As(err, &terr) {
		err = &TweakError{ID: id, Err: err}
	}
	log.Printf("%s", err)
	r.errors = append(r.errors, err)
}

// Uninit tears every tweak down. It reports whether the host was fully
// restored, so that it is safe to unload.
func (r *Registry) Uninit() bool {
	ok := true
	for i := len(r.tweaks) - 1; i >= 0; i-- {
		t := r.tweaks[i]
		err := t.Uninit()
		if err != nil {
			r.Report(t.ID, err)
			ok = false
		}
	}
	r.tweaks = nil
	return ok
}

func (r *Registry) LoadConfig(doc Document) {
	for _, t := range r.tweaks {
		table, ok := doc.Table(t.ID)
		if !ok {
			continue
		}
		for _, err := range t.LoadConfig(table) {
			r.Report(t.ID, err)
		}
	}
}

func (r *Registry) SaveConfig() Document {
	doc := Document{}
	for _, t := range r.tweaks {
		table := t.SaveConfig()
		if len(table) > 0 {
			doc.Set(t.ID, table)
		}
	}
	return doc
}

// Categories returns tweak categories in registration order.
func (r *Registry) Categories() []string {
	var cats []string
	seen := map[string]bool{}
	for _, t := range r.tweaks {
		if !seen[t.Category] {
			seen[t.Category] = true
			cats = append(cats, t.Category)
		}
	}
	return cats
}

func (r *Registry) Render(ui UI) {
	for _, cat := range r.Categories() {
		if cat != "" {
			ui.Header(cat)
		}
		for _, t := range r.tweaks {
			if t.Category != cat {
				continue
			}
			err := t.Render(ui)
			if err != nil {
				r.Report(t.ID, err)
			}
		}
	}
}

func (r *Registry) Tick() {
	for _, t := range r.tweaks {
		err := t.Tick()
		if err != nil {
			r.Report(t.ID, err)
		}
	}
}

func (r *Registry) ResetToDefault() {
	for _, t := range r.tweaks {
		err := t.ResetToDefault()
		if err != nil {
			r.Report(t.ID, err)
		}
	}
}

func (r *Registry) ResetToVanilla() {
	for _, t := range r.tweaks {
		err := t.ResetToVanilla()
		if err != nil {
			r.Report(t.ID, err)
		}
	}
}

// Lookup resolves "tweak.key" to a persisted setting.
func (r *Registry) Lookup(path string) (*Tweak, SettingUntyped, error) {
	id, key, ok := strings.Cut(path, ".")
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q is not of the form tweak.key", ErrUnknownSetting, path)
	}
	t := r.Tweak(id)
	if t == nil {
		return nil, nil, fmt.Errorf("%w: no tweak %q", ErrUnknownSetting, id)
	}
	s, ok := t.Setting(key)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no setting %q in %s", ErrUnknownSetting, key, id)
	}
	return t, s, nil
}

// Paths lists every persisted setting as "tweak.key".
func (r *Registry) Paths() []string {
	var paths []string
	for _, t := range r.tweaks {
		for _, s := range t.settings {
			if s.Key() != "" {
				paths = append(paths, t.ID+"."+s.Key())
			}
		}
	}
	return paths
}

// vim: ai:ts=8:sw=8:noet:syntax=go
