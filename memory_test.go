package main

import (
	"bytes"
	"errors"
	"testing"
)

var errInjected = errors.New("injected fault")

// faultMemory fails writes that touch one of the listed addresses.
type faultMemory struct {
	*ImageMemory
	fail   map[uintptr]bool
	writes int
}

func newFaultMemory(img *ImageMemory) *faultMemory {
	return &faultMemory{ImageMemory: img, fail: map[uintptr]bool{}}
}

func (m *faultMemory) Write(ptr uintptr, buf []byte) error {
	for a := range m.fail {
		if a >= ptr && a < ptr+uintptr(len(buf)) {
			return &PermissionError{Addr: ptr, Size: len(buf), Err: errInjected}
		}
	}
	m.writes++
	return m.ImageMemory.Write(ptr, buf)
}

func TestImageMemory(t *testing.T) {
	img := NewImageMemory(0x1000, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	got, err := img.Read(0x1002, 3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, []byte{3, 4, 5}) {
		t.Errorf("Read = %v", got)
	}

	if _, err := img.Read(0x1006, 4); !errors.Is(err, ErrUnmapped) {
		t.Errorf("Read past the end: %v, want ErrUnmapped", err)
	}

	err = img.Write(0x0FFF, []byte{0})
	var perr *PermissionError
	if !errors.As(err, &perr) || !errors.Is(err, ErrUnmapped) {
		t.Errorf("Write before the image: %v, want PermissionError", err)
	}

	if err := img.Store32(0x1004, 0xDEADBEEF); err != nil {
		t.Fatalf("Store32 failed: %v", err)
	}
	if !bytes.Equal(img.Image()[4:], []byte{0xEF, 0xBE, 0xAD, 0xDE}) {
		t.Errorf("Store32 wrote % X", img.Image()[4:])
	}
}

func TestImageMemoryExecPage(t *testing.T) {
	img := NewImageMemory(0x1000, make([]byte, 16))

	a, err := img.MakeExecPage([]byte{0xC3})
	if err != nil {
		t.Fatalf("MakeExecPage failed: %v", err)
	}
	b, err := img.MakeExecPage([]byte{0x90, 0xC3})
	if err != nil {
		t.Fatalf("MakeExecPage failed: %v", err)
	}
	if a < 0x1010 || b <= a {
		t.Errorf("exec pages at %x and %x overlap the image or each other", a, b)
	}

	got, err := img.Read(b, 2)
	if err != nil {
		t.Fatalf("Read exec page failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0x90, 0xC3}) {
		t.Errorf("exec page holds % X", got)
	}
	if region := img.Region(); region.Contains(a, 1) {
		t.Errorf("region %s contains exec page %x", region, a)
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
