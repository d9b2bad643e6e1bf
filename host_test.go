package main

import (
	"errors"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v3/process"
)

func TestHostLookup(t *testing.T) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		t.Skipf("process info unavailable: %v", err)
	}
	name, err := p.Name()
	if err != nil {
		t.Skipf("process name unavailable: %v", err)
	}

	if err := CheckHost(name); err != nil {
		t.Errorf("CheckHost(%q) = %v", name, err)
	}
	if err := CheckHost(hostProcess); !errors.Is(err, ErrWrongHost) {
		t.Errorf("CheckHost(%q) = %v, want ErrWrongHost", hostProcess, err)
	}

	if _, err := FindProcess(name); err != nil {
		t.Errorf("FindProcess(%q) = %v", name, err)
	}
	if _, err := FindProcess("no-such-process.exe"); !errors.Is(err, ErrHostNotRunning) {
		t.Errorf("FindProcess = %v, want ErrHostNotRunning", err)
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
