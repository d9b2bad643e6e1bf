package main

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/irc.v3"
)

type chanWriter chan *irc.Message

func (w chanWriter) WriteMessage(m *irc.Message) error {
	w <- m
	return nil
}

// fakeHost keeps settings in a map.
type fakeHost struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func (h *fakeHost) Get(ctx context.Context, path string) (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSetting, path)
	}
	return v, nil
}

func (h *fakeHost) Set(ctx context.Context, path string, value interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.values[path]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, path)
	}
	h.values[path] = value
	return nil
}

func (h *fakeHost) Toggle(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[path].(bool)
	if !ok {
		return fmt.Errorf("%s is not a toggle", path)
	}
	h.values[path] = !v
	return nil
}

func (h *fakeHost) ResetToDefault(ctx context.Context) error {
	return nil
}

func (h *fakeHost) ResetToVanilla(ctx context.Context) error {
	return nil
}

func (h *fakeHost) Paths(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var paths []string
	for p := range h.values {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func testBot(t *testing.T) (*IRCBot, *fakeHost, chanWriter) {
	t.Helper()
	host := &fakeHost{values: map[string]interface{}{
		"dev.dev_mode": true,
		"sleep.ms":     uint8(10),
	}}
	b := NewIRCBot(host)
	b.ChannelName = "stream"
	b.AdminName = "admin"
	w := make(chanWriter, 4)
	b.writer = w

	var config Config
	config.SetDefaultScript()
	if err := b.LoadScript(config.Script); err != nil {
		t.Fatalf("LoadScript failed: %v", err)
	}
	return b, host, w
}

func waitReply(t *testing.T, w chanWriter) string {
	t.Helper()
	select {
	case m := <-w:
		if m.Command != "PRIVMSG" || m.Params[0] != "#stream" {
			t.Errorf("reply = %v", m)
		}
		return m.Trailing()
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}
	return ""
}

func TestIRCBotCommands(t *testing.T) {
	tests := []struct {
		name  string
		from  string
		msg   string
		reply string
		check func(t *testing.T, h *fakeHost)
	}{
		{
			name:  "echo",
			from:  "viewer",
			msg:   "!echo hello  world",
			reply: `echo for "viewer": "hello world"`,
		},
		{
			name:  "get",
			from:  "viewer",
			msg:   "!get sleep.ms",
			reply: "sleep.ms = 10",
		},
		{
			name:  "set",
			from:  "admin",
			msg:   "!set sleep.ms 5",
			reply: "sleep.ms = 5",
			check: func(t *testing.T, h *fakeHost) {
				if v := h.values["sleep.ms"]; v != int64(5) {
					t.Errorf("sleep.ms = %#v, want int64(5)", v)
				}
			},
		},
		{
			name:  "set forbidden",
			from:  "viewer",
			msg:   "!set sleep.ms 5",
			reply: `Forbidden, "viewer" != "admin".`,
			check: func(t *testing.T, h *fakeHost) {
				if v := h.values["sleep.ms"]; v != uint8(10) {
					t.Errorf("sleep.ms = %#v, want it unchanged", v)
				}
			},
		},
		{
			name:  "toggle",
			from:  "admin",
			msg:   "!toggle dev.dev_mode",
			reply: "dev.dev_mode = false",
		},
		{
			name:  "settings",
			from:  "viewer",
			msg:   "!settings",
			reply: "dev.dev_mode, sleep.ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, host, w := testBot(t)
			err := b.ProcessMessage(context.Background(), tt.from, tt.msg)
			if err != nil {
				t.Fatalf("ProcessMessage failed: %v", err)
			}
			if got := waitReply(t, w); got != tt.reply {
				t.Errorf("reply = %q, want %q", got, tt.reply)
			}
			if tt.check != nil {
				host.mu.Lock()
				defer host.mu.Unlock()
				tt.check(t, host)
			}
		})
	}
}

func TestIRCBotIgnores(t *testing.T) {
	b, _, w := testBot(t)
	ctx := context.Background()

	for _, msg := range []string{"", "hello there", "!!"} {
		err := b.ProcessMessage(ctx, "viewer", msg)
		if msg == "!!" {
			if err == nil || !strings.Contains(err.Error(), "Unrecognized command") {
				t.Errorf("ProcessMessage(%q) = %v", msg, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ProcessMessage(%q) = %v", msg, err)
		}
	}
	if err := b.ProcessMessage(ctx, "viewer", "!nope"); err == nil {
		t.Error("unknown command accepted")
	}

	select {
	case m := <-w:
		t.Errorf("unexpected reply %v", m)
	case <-time.After(100 * time.Millisecond):
	}

	fresh := NewIRCBot(&fakeHost{})
	if err := fresh.ProcessMessage(ctx, "viewer", "!get x"); err == nil {
		t.Error("command ran without a script")
	}
}

func TestIRCBotStartUnconfigured(t *testing.T) {
	b := NewIRCBot(&fakeHost{})
	b.Configure(&Config{ChatServer: "irc.example.com:6697", ChatChannel: "#stream"})
	if b.ChannelName != "stream" {
		t.Errorf("channel = %q, want the leading # stripped", b.ChannelName)
	}
	if err := b.Start(); err != ErrChatNotConfigured {
		t.Errorf("Start = %v, want ErrChatNotConfigured", err)
	}
	if b.IsOnline() {
		t.Error("bot online without a connection")
	}
}

func TestParseScalar(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"5", int64(5)},
		{"0x10", int64(16)},
		{"-3", int64(-3)},
		{"2.5", 2.5},
		{"true", true},
		{"False", false},
		{"fast", "fast"},
	}
	for _, tt := range tests {
		if got := parseScalar(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseScalar(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
