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
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var ErrHudStopped = errors.New("hud is not running")

const frameInterval = time.Second / 60

// Hud runs the single loop that owns the registry. Everything touching
// settings or effects is marshalled onto it with Do.
type Hud struct {
	Registry *Registry
	Config   *Config
	Alerter  *Alerter
	Bot      *IRCBot

	calls    chan func()
	stopped  chan struct{}
	stopOnce sync.Once
	visible  atomic.Bool
	toggle   *keyEdge
	reported int
}

func NewHud(registry *Registry, config *Config, alerter *Alerter) *Hud {
	h := &Hud{
		Registry: registry,
		Config:   config,
		Alerter:  alerter,
		calls:    make(chan func()),
		stopped:  make(chan struct{}),
	}
	h.visible.Store(true)
	if config != nil && config.ToggleKey != "" {
		vk, err := ParseKey(config.ToggleKey)
		if err != nil {
			log.Printf("cannot use toggle key: %s", err)
		} else {
			h.toggle = &keyEdge{vk: vk}
		}
	}
	return h
}

// Run ticks the registry until ctx is done or the HUD is stopped.
func (h *Hud) Run(ctx context.Context) error {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	h.flush()
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return ctx.Err()
		case <-h.stopped:
			return nil
		case fn := <-h.calls:
			fn()
			h.flush()
		case <-ticker.C:
			if h.toggle != nil && h.toggle.Pressed() {
				h.SetVisible(!h.Visible())
			}
			h.Registry.Tick()
			h.flush()
		}
	}
}

func (h *Hud) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopped)
	})
}

// Do runs fn on the loop and waits for its result.
func (h *Hud) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	call := func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- fn()
	}

	select {
	case h.calls <- call:
	case <-h.stopped:
		return ErrHudStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hud) Visible() bool {
	return h.visible.Load()
}

func (h *Hud) SetVisible(v bool) {
	if h.visible.Swap(v) != v {
		h.Alerter.Broadcast(AlertEvent{Kind: "visibility", Visible: v})
	}
}

// Report records a runtime error, forcing the panel visible.
func (h *Hud) Report(id string, err error) {
	h.Registry.Report(id, err)
	h.flush()
}

// flush broadcasts errors recorded since the previous call.
func (h *Hud) flush() {
	errs := h.Registry.Errors()
	if len(errs) < h.reported {
		h.reported = 0
	}
	if len(errs) == h.reported {
		return
	}
	h.visible.Store(true)
	for _, err := range errs[h.reported:] {
		ev := AlertEvent{Kind: "error", Text: err.Error(), Visible: true}
		var terr *TweakError
		if errors.As(err, &terr) {
			ev.Tweak = terr.ID
		}
		h.Alerter.Broadcast(ev)
	}
	h.reported = len(errs)
}

// Panel renders the registry, delivering edit to its widget. It must be
// called on the loop.
func (h *Hud) Panel(edit *Edit) (*htmlUI, error) {
	ui := newHTMLUI(edit)
	h.Registry.Render(ui)
	return ui, ui.Err()
}

func (h *Hud) changed(path string, value interface{}) {
	h.Alerter.Broadcast(AlertEvent{
		Kind:    "change",
		Text:    fmt.Sprintf("%s = %v", path, value),
		Visible: h.Visible(),
	})
}

// Get, Set, Toggle and the resets are the entry points for code running
// off the loop, such as chat commands.
func (h *Hud) Get(ctx context.Context, path string) (interface{}, error) {
	var value interface{}
	err := h.Do(ctx, func() error {
		_, s, err := h.Registry.Lookup(path)
		if err != nil {
			return err
		}
		value = s.Value()
		return nil
	})
	return value, err
}

func (h *Hud) Set(ctx context.Context, path string, value interface{}) error {
	return h.Do(ctx, func() error {
		t, s, err := h.Registry.Lookup(path)
		if err != nil {
			return err
		}
		err = s.SetRaw(value)
		if err != nil {
			if !errors.Is(err, ErrTypeMismatch) && !errors.Is(err, ErrOutOfRange) {
				h.Registry.Report(t.ID, err)
			}
			return err
		}
		h.changed(path, s.Value())
		return nil
	})
}

func (h *Hud) Toggle(ctx context.Context, path string) error {
	return h.Do(ctx, func() error {
		t, s, err := h.Registry.Lookup(path)
		if err != nil {
			return err
		}
		v, ok := s.Value().(bool)
		if !ok {
			return fmt.Errorf("%s is not a toggle", path)
		}
		err = s.SetRaw(!v)
		if err != nil {
			h.Registry.Report(t.ID, err)
			return err
		}
		h.changed(path, !v)
		return nil
	})
}

func (h *Hud) ResetToDefault(ctx context.Context) error {
	return h.Do(ctx, func() error {
		h.Registry.ResetToDefault()
		h.Alerter.Broadcast(AlertEvent{Kind: "change", Text: "reset to defaults", Visible: h.Visible()})
		return nil
	})
}

func (h *Hud) ResetToVanilla(ctx context.Context) error {
	return h.Do(ctx, func() error {
		h.Registry.ResetToVanilla()
		h.Alerter.Broadcast(AlertEvent{Kind: "change", Text: "reset to vanilla", Visible: h.Visible()})
		return nil
	})
}

func (h *Hud) Paths(ctx context.Context) ([]string, error) {
	var paths []string
	err := h.Do(ctx, func() error {
		paths = h.Registry.Paths()
		return nil
	})
	return paths, err
}

// SaveConfig stores the current setting values into the config and
// writes it out.
func (h *Hud) SaveConfig(ctx context.Context) error {
	return h.Do(ctx, h.saveConfig)
}

// storeTweaks keeps the values of tweaks that failed to build, so they
// come back once the tweak resolves again.
func (h *Hud) storeTweaks(values Document) {
	if h.Config.Tweaks == nil {
		h.Config.Tweaks = Document{}
	}
	h.Config.Tweaks.Merge(values)
}

func (h *Hud) saveConfig() error {
	h.storeTweaks(h.Registry.SaveConfig())
	err := h.Config.Save()
	if err != nil {
		return fmt.Errorf("cannot save config: %w", err)
	}
	return nil
}

// Eject restores the host. When every tweak came down cleanly the config
// is saved, chat is closed and the loop stops; the module may then be
// unloaded.
func (h *Hud) Eject(ctx context.Context) (bool, error) {
	var clean bool
	err := h.Do(ctx, func() error {
		values := h.Registry.SaveConfig()
		clean = h.Registry.Uninit()
		if !clean {
			return nil
		}
		h.storeTweaks(values)
		err := h.Config.Save()
		if err != nil {
			log.Printf("cannot save config: %s", err)
		}
		return nil
	})
	if err != nil || !clean {
		return clean, err
	}

	if h.Bot != nil {
		h.Bot.Close()
	}
	h.Alerter.Broadcast(AlertEvent{Kind: "eject", Text: "all tweaks are disabled, safe to unload"})
	h.Stop()
	log.Println("all tweaks are disabled, safe to unload")
	return true, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
