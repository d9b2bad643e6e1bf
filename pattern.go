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
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrEmptyPattern = errors.New("empty pattern")

// Element matches a single byte. A zero mask is a wildcard; Alt lists
// further exact values accepted at the same position.
type Element struct {
	Value byte
	Mask  byte
	Alt   []byte
}

var Any = Element{}

func Exact(b byte) Element {
	return Element{Value: b, Mask: 0xFF}
}

func Either(b byte, alt ...byte) Element {
	return Element{Value: b, Mask: 0xFF, Alt: alt}
}

func Nibble(b, mask byte) Element {
	return Element{Value: b & mask, Mask: mask}
}

func (e Element) Matches(b byte) bool {
	if b&e.Mask == e.Value&e.Mask {
		return true
	}
	for _, a := range e.Alt {
		if a == b {
			return true
		}
	}
	return false
}

func (e Element) exact() bool {
	return e.Mask == 0xFF && len(e.Alt) == 0
}

func (e Element) String() string {
	hex := strings.ToUpper(strconv.FormatUint(uint64(e.Value), 16))
	if len(hex) == 1 {
		hex = "0" + hex
	}
	switch e.Mask {
	case 0:
		return "??"
	case 0xF0:
		hex = hex[:1] + "?"
	case 0x0F:
		hex = "?" + hex[1:]
	case 0xFF:
	default:
		hex = fmt.Sprintf("%s/%02X", hex, e.Mask)
	}
	for _, a := range e.Alt {
		hex += fmt.Sprintf("|%02X", a)
	}
	return hex
}

type Pattern struct {
	elems  []Element
	anchor int
}

func newPattern(elems []Element) (*Pattern, error) {
	if len(elems) == 0 {
		return nil, ErrEmptyPattern
	}
	p := &Pattern{elems: elems, anchor: -1}
	for i, e := range elems {
		if e.exact() {
			p.anchor = i
			break
		}
	}
	return p, nil
}

// Sig builds a pattern from byte values and Elements. It panics on
// anything else, so it is meant for patterns written in code.
func Sig(elems ...interface{}) *Pattern {
	pat := make([]Element, 0, len(elems))
	for i, e := range elems {
		switch v := e.(type) {
		case int:
			if v < 0 || v > 0xFF {
				panic(fmt.Sprintf("sig: element %d out of range: %d", i, v))
			}
			pat = append(pat, Exact(byte(v)))
		case byte:
			pat = append(pat, Exact(v))
		case Element:
			pat = append(pat, v)
		default:
			panic(fmt.Sprintf("sig: element %d has unsupported type %T", i, e))
		}
	}
	p, err := newPattern(pat)
	if err != nil {
		panic("sig: " + err.Error())
	}
	return p
}

func parseElement(tok string) (Element, error) {
	alts := strings.Split(tok, "|")
	if len(alts) > 1 {
		var e Element
		for i, a := range alts {
			v, err := strconv.ParseUint(a, 16, 8)
			if err != nil || len(a) != 2 {
				return Any, fmt.Errorf("invalid alternative %q in %q", a, tok)
			}
			if i == 0 {
				e = Exact(byte(v))
			} else {
				e.Alt = append(e.Alt, byte(v))
			}
		}
		return e, nil
	}
	if tok == "?" || tok == "??" {
		return Any, nil
	}
	if len(tok) != 2 {
		return Any, fmt.Errorf("invalid token %q", tok)
	}
	var value, mask byte
	for i := 0; i < 2; i++ {
		value <<= 4
		mask <<= 4
		if tok[i] == '?' {
			continue
		}
		v, err := strconv.ParseUint(tok[i:i+1], 16, 8)
		if err != nil {
			return Any, fmt.Errorf("invalid token %q", tok)
		}
		value |= byte(v)
		mask |= 0xF
	}
	return Element{Value: value, Mask: mask}, nil
}

// ParsePattern reads the textual form: space separated hex bytes, "??"
// wildcards, "A?" or "?F" nibble masks and "A0|D0" alternations.
func ParsePattern(text string) (*Pattern, error) {
	fields := strings.Fields(text)
	elems := make([]Element, 0, len(fields))
	for _, tok := range fields {
		e, err := parseElement(tok)
		if err != nil {
			return nil, fmt.Errorf("cannot parse pattern: %w", err)
		}
		elems = append(elems, e)
	}
	p, err := newPattern(elems)
	if err != nil {
		return nil, fmt.Errorf("cannot parse pattern: %w", err)
	}
	return p, nil
}

func MustParsePattern(text string) *Pattern {
	p, err := ParsePattern(text)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) Len() int {
	return len(p.elems)
}

func (p *Pattern) Elements() []Element {
	return p.elems
}

func (p *Pattern) String() string {
	parts := make([]string, len(p.elems))
	for i, e := range p.elems {
		parts[i] = e.String()
	}
	return strings.Join(parts, " ")
}

func (p *Pattern) MatchAt(data []byte, off int) bool {
	if off < 0 || off+len(p.elems) > len(data) {
		return false
	}
	for i, e := range p.elems {
		if !e.Matches(data[off+i]) {
			return false
		}
	}
	return true
}

// FindAll returns the offsets of every match in data, ascending.
// Overlapping matches are all reported.
func (p *Pattern) FindAll(data []byte) []int {
	n := len(p.elems)
	if n == 0 || n > len(data) {
		return nil
	}
	var matches []int
	last := len(data) - n
	k := p.anchor
	for i := 0; i <= last; i++ {
		if k >= 0 {
			j := bytes.IndexByte(data[i+k:last+k+1], p.elems[k].Value)
			if j < 0 {
				break
			}
			i += j
		}
		if p.MatchAt(data, i) {
			matches = append(matches, i)
		}
	}
	return matches
}

// vim: ai:ts=8:sw=8:noet:syntax=go
