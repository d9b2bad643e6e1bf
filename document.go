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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Table holds the persisted values of one tweak, keyed by setting key.
type Table map[string]interface{}

func (t Table) Get(key string) (interface{}, bool) {
	v, ok := t[key]
	return v, ok
}

func (t Table) Set(key string, v interface{}) {
	t[key] = v
}

// Document is the whole settings store: tweak id to Table.
type Document map[string]Table

func (d Document) Table(id string) (Table, bool) {
	t, ok := d[id]
	return t, ok
}

func (d Document) Set(id string, t Table) {
	d[id] = t
}

// Merge overwrites the tables of the tweaks in src. Tables of tweaks
// missing from src are kept.
func (d Document) Merge(src Document) {
	for id, t := range src {
		d[id] = t
	}
}

func (d Document) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var ErrTypeMismatch = errors.New("type mismatch")

type ConfigError struct {
	Tweak string
	Key   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Tweak == "" {
		return fmt.Sprintf("config key %q: %s", e.Key, e.Err)
	}
	return fmt.Sprintf("config key %q of %s: %s", e.Key, e.Tweak, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// number is a decoded numeric scalar at its full precision. Exactly one
// of signed and unsigned is set for integers, neither for fractions.
type number struct {
	signed   bool
	unsigned bool
	i        int64
	u        uint64
	f        float64
}

func toNumber(raw interface{}) (number, bool) {
	if n, ok := raw.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return number{signed: true, i: i, f: float64(i)}, true
		}
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return number{unsigned: true, u: u, f: float64(u)}, true
		}
		f, err := n.Float64()
		if err != nil {
			return number{}, false
		}
		return number{f: f}, true
	}

	v := reflect.ValueOf(raw)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{signed: true, i: v.Int(), f: float64(v.Int())}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return number{unsigned: true, u: v.Uint(), f: float64(v.Uint())}, true
	case reflect.Float32, reflect.Float64:
		return number{f: v.Float()}, true
	}
	return number{}, false
}

// asInt64 is n as an int64, if it is a whole number that fits.
func (n number) asInt64() (int64, bool) {
	switch {
	case n.signed:
		return n.i, true
	case n.unsigned:
		return int64(n.u), n.u <= math.MaxInt64
	}
	if n.f != math.Trunc(n.f) || n.f < math.MinInt64 || n.f >= math.MaxInt64 {
		return 0, false
	}
	return int64(n.f), true
}

// asUint64 is n as a uint64, if it is a whole number that fits.
func (n number) asUint64() (uint64, bool) {
	switch {
	case n.signed:
		return uint64(n.i), n.i >= 0
	case n.unsigned:
		return n.u, true
	}
	if n.f != math.Trunc(n.f) || n.f < 0 || n.f >= math.MaxUint64 {
		return 0, false
	}
	return uint64(n.f), true
}

// convertValue turns a decoded scalar (JSON, YAML or script) into T.
// Numbers must be representable in T without loss.
func convertValue[T Value](raw interface{}) (T, error) {
	var zero T
	if v, ok := raw.(T); ok {
		return v, nil
	}

	target := reflect.TypeOf(zero)
	if raw == nil {
		return zero, fmt.Errorf("%w: got nothing, want %s", ErrTypeMismatch, target)
	}

	out := reflect.New(target).Elem()
	if target.Kind() == reflect.Bool {
		b, ok := raw.(bool)
		if !ok {
			return zero, fmt.Errorf("%w: got %T, want %s", ErrTypeMismatch, raw, target)
		}
		out.SetBool(b)
		return out.Interface().(T), nil
	}

	n, ok := toNumber(raw)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %s", ErrTypeMismatch, raw, target)
	}
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := n.asInt64()
		if !ok || out.OverflowInt(i) {
			return zero, fmt.Errorf("%w: %v does not fit %s", ErrTypeMismatch, raw, target)
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, ok := n.asUint64()
		if !ok || out.OverflowUint(u) {
			return zero, fmt.Errorf("%w: %v does not fit %s", ErrTypeMismatch, raw, target)
		}
		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		if out.OverflowFloat(n.f) {
			return zero, fmt.Errorf("%w: %v overflows %s", ErrTypeMismatch, raw, target)
		}
		out.SetFloat(n.f)
	default:
		return zero, fmt.Errorf("%w: unsupported setting type %s", ErrTypeMismatch, target)
	}

	return out.Interface().(T), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
