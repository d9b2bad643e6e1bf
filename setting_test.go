package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func testBuilder(data []byte) (*ImageMemory, *TweakBuilder) {
	img := NewImageMemory(testBase, append([]byte(nil), data...))
	return img, newTweakBuilder(img.Region(), TweakDef{ID: "test"})
}

func TestToggle(t *testing.T) {
	data := []byte{0x48, 0x39, 0xAA, 0xD0, 0x74, 0x05, 0xEB, 0x10}
	img, b := testBuilder(data)

	jnz, err := b.Injection(MustParsePattern("48 39 ?? D0 74 ??"), []byte{0x75}, AtStartOffset(4))
	if err != nil {
		t.Fatal(err)
	}
	jmp, err := b.Injection(MustParsePattern("EB 10"), []byte{0x90, 0x90}, AtStart)
	if err != nil {
		t.Fatal(err)
	}

	var seen []bool
	s, err := b.Toggle("Dev Mode", NewDefaults(true, false)).
		ConfigKey("dev_mode").
		Injection(jnz, false).
		Injection(jmp, true).
		OnValueChanged(func(v bool) { seen = append(seen, v) }).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := s.Set(true); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x48, 0x39, 0xAA, 0xD0, 0x75, 0x05, 0xEB, 0x10}; !bytes.Equal(img.Image(), want) {
		t.Errorf("on = % X, want % X", img.Image(), want)
	}

	if err := s.Set(false); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x48, 0x39, 0xAA, 0xD0, 0x74, 0x05, 0x90, 0x90}; !bytes.Equal(img.Image(), want) {
		t.Errorf("off = % X, want % X", img.Image(), want)
	}

	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Errorf("listener saw %v, want [true false]", seen)
	}
}

func TestToggleRollback(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	img := NewImageMemory(testBase, append([]byte(nil), data...))
	mem := newFaultMemory(img)
	b := newTweakBuilder(NewMemoryRegion(mem, testBase, len(data)), TweakDef{ID: "test"})

	first := NewPatch(mem, testBase, []byte{0xAA})
	second := NewPatch(mem, testBase+2, []byte{0xBB})
	s, err := b.Toggle("Both", NewDefaults(false, false)).
		Injection(first, false).
		Injection(second, false).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	mem.fail[testBase+2] = true
	err = s.Set(true)
	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("Set error = %v, want PermissionError", err)
	}
	if s.Get() {
		t.Error("value committed after a failed apply")
	}
	if first.Enabled() || second.Enabled() {
		t.Error("effects left enabled after rollback")
	}
	if !bytes.Equal(img.Image(), data) {
		t.Errorf("image after rollback = % X, want % X", img.Image(), data)
	}
}

func TestSlider(t *testing.T) {
	data := []byte{
		0xB9, 0x0A, 0x00, 0x00, 0x00, 0xFF, 0x15,
		0xC7, 0x05, 0x0A, 0x00, 0x00, 0x00, 0xCC,
	}
	img, b := testBuilder(data)

	a, err := NumberInjection[uint32](b, MustParsePattern("B9 ?? ?? ?? ?? FF 15"), AtStartOffset(1))
	if err != nil {
		t.Fatal(err)
	}
	c, err := NumberInjection[uint32](b, MustParsePattern("C7 05 ?? ?? ?? ?? CC"), AtStartOffset(2))
	if err != nil {
		t.Fatal(err)
	}

	var last uint32
	s, err := NewSlider[uint32](b, "Sleep", 0, 20, NewDefaults[uint32](0, 10)).
		ConfigKey("sleep").
		Injection(a).
		Injection(c).
		OnValueChanged(func(v uint32) { last = v }).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := s.Set(3); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0xB9, 0x03, 0x00, 0x00, 0x00, 0xFF, 0x15,
		0xC7, 0x05, 0x03, 0x00, 0x00, 0x00, 0xCC,
	}
	if !bytes.Equal(img.Image(), want) {
		t.Errorf("after Set(3) = % X, want % X", img.Image(), want)
	}
	if last != 3 {
		t.Errorf("listener saw %d, want 3", last)
	}

	if err := s.SetRaw(float64(30)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("SetRaw(30) = %v, want ErrOutOfRange", err)
	}
	if err := s.SetRaw("3"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf(`SetRaw("3") = %v, want ErrTypeMismatch`, err)
	}
	if s.Get() != 3 {
		t.Errorf("value = %d after rejected sets, want 3", s.Get())
	}

	if err := disableAll(s.Effects()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img.Image(), data) {
		t.Errorf("after disable = % X, want % X", img.Image(), data)
	}
}

func TestSliderRollback(t *testing.T) {
	data := []byte{0x10, 0x00, 0x20, 0x00}
	img := NewImageMemory(testBase, append([]byte(nil), data...))
	mem := newFaultMemory(img)
	b := newTweakBuilder(NewMemoryRegion(mem, testBase, len(data)), TweakDef{ID: "test"})

	a, err := NewNumberPatch[uint16](mem, testBase)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewNumberPatch[uint16](mem, testBase+2)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSlider[uint16](b, "Two", 0, 100, NewDefaults[uint16](1, 1)).
		Injection(a).
		Injection(c).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(5); err != nil {
		t.Fatal(err)
	}

	mem.fail[testBase+2] = true
	if err := s.Set(7); err == nil {
		t.Fatal("Set succeeded with a faulty second patch")
	}
	if s.Get() != 5 {
		t.Errorf("value = %d, want 5", s.Get())
	}
	if want := []byte{0x05, 0x00, 0x05, 0x00}; !bytes.Equal(img.Image(), want) {
		t.Errorf("image after rollback = % X, want % X", img.Image(), want)
	}
}

func TestSliderBuildChecks(t *testing.T) {
	_, b := testBuilder([]byte{0})

	if _, err := NewSlider[int8](b, "Inverted", 10, 0, NewDefaults[int8](5, 5)).Build(); err == nil {
		t.Error("min above max accepted")
	}
	if _, err := NewSlider[int8](b, "Bad default", 0, 10, NewDefaults[int8](11, 5)).Build(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("default out of range: %v, want ErrOutOfRange", err)
	}
}

func TestFloatSliderPatch(t *testing.T) {
	img, b := testBuilder([]byte{0xF3, 0x0F, 0x10, 0x00, 0x00, 0x80, 0x3F})

	np, err := NumberInjection[float32](b, MustParsePattern("F3 0F 10 ?? ?? ?? ??"), AtEnd)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSlider[float32](b, "Speed", 0.1, 4, NewDefaults[float32](0.8, 1)).
		Injection(np).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(2.5); err != nil {
		t.Fatal(err)
	}
	got := math.Float32frombits(uint32(img.Image()[3]) | uint32(img.Image()[4])<<8 |
		uint32(img.Image()[5])<<16 | uint32(img.Image()[6])<<24)
	if got != 2.5 {
		t.Errorf("patched float = %v, want 2.5", got)
	}
}

func TestSettingConfig(t *testing.T) {
	_, b := testBuilder([]byte{0})
	s, err := NewSlider[uint8](b, "Level", 0, 20, NewDefaults[uint8](2, 10)).
		ConfigKey("level").
		Build()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		raw     interface{}
		want    uint8
		wantErr error
	}{
		{"json number", float64(7), 7, nil},
		{"wrong type", "seven", 2, ErrTypeMismatch},
		{"fraction", 7.5, 2, ErrTypeMismatch},
		{"out of range", float64(30), 2, ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.ResetToDefault(); err != nil {
				t.Fatal(err)
			}
			err := s.LoadConfig(Table{"level": tt.raw})
			if tt.wantErr != nil {
				var cerr *ConfigError
				if !errors.As(err, &cerr) || !errors.Is(err, tt.wantErr) {
					t.Fatalf("LoadConfig error = %v, want ConfigError wrapping %v", err, tt.wantErr)
				}
				if cerr.Key != "level" {
					t.Errorf("error key = %q", cerr.Key)
				}
			} else if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if s.Get() != tt.want {
				t.Errorf("value = %d, want %d", s.Get(), tt.want)
			}
		})
	}

	table := Table{}
	s.SaveConfig(table)
	if v, ok := table.Get("level"); !ok || v != uint8(2) {
		t.Errorf("saved %v, want 2", v)
	}
}

func TestSettingWithoutKeyIsNotPersisted(t *testing.T) {
	_, b := testBuilder([]byte{0})
	s, err := b.Toggle("Ephemeral", NewDefaults(true, false)).Build()
	if err != nil {
		t.Fatal(err)
	}
	table := Table{"": true}
	if err := s.LoadConfig(table); err != nil {
		t.Fatal(err)
	}
	out := Table{}
	s.SaveConfig(out)
	if len(out) != 0 {
		t.Errorf("saved %v for a setting without key", out)
	}
}

// dragUI moves every slider to a fixed value.
type dragUI struct {
	htmlUI
	to float64
}

func (u *dragUI) Slider(label string, value *float64, min, max float64, integer bool) bool {
	*value = u.to
	return true
}

func TestSliderRender(t *testing.T) {
	tests := []struct {
		name string
		to   float64
		want uint64
	}{
		{"inside", 41.6, 42},
		{"below", -3, 10},
		{"above", 1e30, math.MaxUint64},
		{"top", float64(math.MaxUint64), math.MaxUint64},
	}

	s := &Slider[uint64]{min: 10, max: math.MaxUint64}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ui := &dragUI{htmlUI: *newHTMLUI(nil), to: tt.to}
			v, changed := s.Render(ui, "Counter", "", 20, NewDefaults[uint64](20, 20))
			if v != tt.want || !changed {
				t.Errorf("Render = %d, %v; want %d, true", v, changed, tt.want)
			}
		})
	}
}

func TestConvertValue(t *testing.T) {
	if v, err := convertValue[int8](float64(-128)); err != nil || v != -128 {
		t.Errorf("convertValue[int8](-128) = %v, %v", v, err)
	}
	if _, err := convertValue[int8](float64(128)); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("convertValue[int8](128) = %v, want ErrTypeMismatch", err)
	}
	if _, err := convertValue[uint16](int64(-1)); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("convertValue[uint16](-1) = %v, want ErrTypeMismatch", err)
	}
	if v, err := convertValue[float32](int64(3)); err != nil || v != 3 {
		t.Errorf("convertValue[float32](3) = %v, %v", v, err)
	}
	if _, err := convertValue[bool](float64(1)); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("convertValue[bool](1) = %v, want ErrTypeMismatch", err)
	}
	if _, err := convertValue[bool](nil); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("convertValue[bool](nil) = %v, want ErrTypeMismatch", err)
	}
	if v, err := convertValue[uint64](uint64(math.MaxUint64)); err != nil || v != math.MaxUint64 {
		t.Errorf("convertValue[uint64](max) = %v, %v", v, err)
	}
	if _, err := convertValue[int64](uint64(math.MaxUint64)); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("convertValue[int64](max uint64) = %v, want ErrTypeMismatch", err)
	}
	if v, err := convertValue[int64](json.Number("-9007199254740993")); err != nil || v != -9007199254740993 {
		t.Errorf("convertValue[int64](json -2^53-1) = %v, %v", v, err)
	}
	if v, err := convertValue[uint8](json.Number("2e1")); err != nil || v != 20 {
		t.Errorf("convertValue[uint8](json 2e1) = %v, %v", v, err)
	}
	if _, err := convertValue[int32](json.Number("1.5")); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("convertValue[int32](json 1.5) = %v, want ErrTypeMismatch", err)
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
