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
	"strconv"
	"strings"
)

// virtual key codes understood in the config
var keyNames = map[string]int32{
	"BACKSPACE": 0x08,
	"TAB":       0x09,
	"PAUSE":     0x13,
	"CAPSLOCK":  0x14,
	"PAGEUP":    0x21,
	"PAGEDOWN":  0x22,
	"END":       0x23,
	"HOME":      0x24,
	"INSERT":    0x2D,
	"DELETE":    0x2E,
	"SCROLL":    0x91,
	"OEM3":      0xC0,
}

func init() {
	for i := int32(1); i <= 12; i++ {
		keyNames["F"+strconv.Itoa(int(i))] = 0x6F + i
	}
}

func ParseKey(name string) (int32, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if vk, ok := keyNames[name]; ok {
		return vk, nil
	}
	if len(name) == 1 && (name[0] >= 'A' && name[0] <= 'Z' || name[0] >= '0' && name[0] <= '9') {
		return int32(name[0]), nil
	}
	if strings.HasPrefix(name, "0X") {
		vk, err := strconv.ParseUint(name[2:], 16, 8)
		if err == nil {
			return int32(vk), nil
		}
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// keyEdge reports presses of a single key, one per press.
type keyEdge struct {
	vk   int32
	down bool
}

func (k *keyEdge) Pressed() bool {
	down := keyDown(k.vk)
	pressed := down && !k.down
	k.down = down
	return pressed
}

// vim: ai:ts=8:sw=8:noet:syntax=go
