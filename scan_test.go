package main

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

const testBase = 0x140000000

func testRegion(data []byte) (*ImageMemory, *MemoryRegion) {
	img := NewImageMemory(testBase, append([]byte(nil), data...))
	return img, img.Region()
}

func TestScanAll(t *testing.T) {
	_, region := testRegion([]byte{0x90, 0x48, 0x39, 0xAA, 0xD0, 0x74, 0x05, 0x48, 0x39, 0x00, 0xD0, 0x74, 0x00})
	got, err := ScanAll(region, MustParsePattern("48 39 ?? D0 74 ??"))
	if err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}
	want := []uintptr{testBase + 1, testBase + 7}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScanAll = %x, want %x", got, want)
	}
}

func TestScanSingle(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    uintptr
		wantErr error
		matches int
	}{
		{
			name: "one match",
			data: []byte{0x00, 0x48, 0x39, 0xAA, 0xD0, 0x74, 0x05},
			want: testBase + 1,
		},
		{
			name:    "no match",
			data:    []byte{0x00, 0x48, 0x39, 0xAA, 0xD1, 0x74, 0x05},
			wantErr: ErrNoMatches,
		},
		{
			name:    "two matches",
			data:    []byte{0x48, 0x39, 0x01, 0xD0, 0x74, 0x05, 0x48, 0x39, 0x02, 0xD0, 0x74, 0x06},
			wantErr: ErrMultipleMatches,
			matches: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, region := testRegion(tt.data)
			got, err := ScanSingle(region, MustParsePattern("48 39 ?? D0 74 ??"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ScanSingle error = %v, want %v", err, tt.wantErr)
				}
				var serr *ScanError
				if !errors.As(err, &serr) || serr.Matches != tt.matches {
					t.Errorf("ScanSingle error = %#v, want %d matches", err, tt.matches)
				}
				return
			}
			if err != nil {
				t.Fatalf("ScanSingle failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ScanSingle = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestAnchorResolve(t *testing.T) {
	tests := []struct {
		name    string
		anchor  Anchor
		payload int
		want    uintptr
	}{
		{"start", AtStart, 1, 100},
		{"start offset", AtStartOffset(4), 1, 104},
		{"end", AtEnd, 2, 104},
		{"end offset", AtEndOffset(-2), 2, 102},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.anchor.Resolve(100, 6, tt.payload); got != tt.want {
				t.Errorf("%s.Resolve = %d, want %d", tt.anchor, got, tt.want)
			}
		})
	}
}

func TestParseAnchor(t *testing.T) {
	tests := []struct {
		input   string
		want    Anchor
		wantErr bool
	}{
		{input: "start", want: AtStart},
		{input: "end", want: AtEnd},
		{input: "start+6", want: AtStartOffset(6)},
		{input: "end-2", want: AtEndOffset(-2)},
		{input: "middle", wantErr: true},
		{input: "start6", wantErr: true},
		{input: "end+x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAnchor(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAnchor(%q) = %s, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAnchor(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAnchor(%q) = %s, want %s", tt.input, got, tt.want)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestLocateOutOfRegion(t *testing.T) {
	_, region := testRegion([]byte{0x00, 0x00, 0xC3})
	_, err := region.Locate(MustParsePattern("C3"), AtStartOffset(1), 1)
	if !errors.Is(err, ErrOutOfRegion) {
		t.Errorf("Locate error = %v, want ErrOutOfRegion", err)
	}
}

// The dev id check: find the jz and turn it into jnz, then put it back.
func TestScanPatchRestore(t *testing.T) {
	data := []byte{0x48, 0x39, 0xAA, 0xD0, 0x74, 0x05}
	img, region := testRegion(data)

	addr, err := region.Locate(MustParsePattern("48 39 ?? d0 74 ??"), AtStartOffset(4), 1)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if addr != testBase+4 {
		t.Fatalf("Locate = %x, want %x", addr, testBase+4)
	}

	p := NewPatch(img, addr, []byte{0x75})
	if err := p.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	want := []byte{0x48, 0x39, 0xAA, 0xD0, 0x75, 0x05}
	if !bytes.Equal(img.Image(), want) {
		t.Errorf("patched image = % X, want % X", img.Image(), want)
	}

	if err := p.Disable(); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if !bytes.Equal(img.Image(), data) {
		t.Errorf("restored image = % X, want % X", img.Image(), data)
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
