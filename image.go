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
	"debug/pe"
	"fmt"
	"log"
	"os"
)

// LoadImage maps the sections of a PE file at their virtual addresses,
// the way the loader would. Files that are not PE images are loaded
// as-is at base 0.
func LoadImage(path string) (*ImageMemory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open image: %w", err)
	}

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		log.Printf("%s is not a PE image (%s), loading it flat", path, err)
		return NewImageMemory(0, data), nil
	}
	defer f.Close()

	var base uintptr
	var size uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		base, size = uintptr(oh.ImageBase), oh.SizeOfImage
	case *pe.OptionalHeader32:
		base, size = uintptr(oh.ImageBase), oh.SizeOfImage
	default:
		return nil, fmt.Errorf("image %q has no optional header", path)
	}

	image := make([]byte, size)
	for _, s := range f.Sections {
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("cannot read section %s of %q: %w", s.Name, path, err)
		}
		if uint64(s.VirtualAddress)+uint64(len(data)) > uint64(size) {
			return nil, fmt.Errorf("section %s of %q is outside the image", s.Name, path)
		}
		copy(image[s.VirtualAddress:], data)
	}
	return NewImageMemory(base, image), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
