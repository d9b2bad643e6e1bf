package main

import "testing"

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    int32
		wantErr bool
	}{
		{"F8", 0x77, false},
		{" f1 ", 0x70, false},
		{"F12", 0x7B, false},
		{"insert", 0x2D, false},
		{"a", 'A', false},
		{"7", '7', false},
		{"0x91", 0x91, false},
		{"0x1FF", 0, true},
		{"hyper", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKey(%q) = %#x, %v; want %#x, error %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
