package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/anko/env"
	"github.com/mattn/anko/vm"
	"gopkg.in/irc.v3"
)

// SettingsHost is what chat commands may do to the tweaks.
type SettingsHost interface {
	Get(ctx context.Context, path string) (interface{}, error)
	Set(ctx context.Context, path string, value interface{}) error
	Toggle(ctx context.Context, path string) error
	ResetToDefault(ctx context.Context) error
	ResetToVanilla(ctx context.Context) error
	Paths(ctx context.Context) ([]string, error)
}

type messageWriter interface {
	WriteMessage(m *irc.Message) error
}

const commandTimeout = 10 * time.Second

type IRCBot struct {
	UserName    string
	Password    string
	AdminName   string
	ChannelName string
	Server      string
	TLS         bool
	Script      string
	LastBuckets map[string]time.Time
	Host        SettingsHost

	online bool

	e *env.Env

	client *irc.Client
	writer messageWriter
	conn   net.Conn
	mu     *sync.Mutex
}

func NewIRCBot(host SettingsHost) *IRCBot {
	return &IRCBot{
		LastBuckets: make(map[string]time.Time),
		Host:        host,
		mu:          new(sync.Mutex),
	}
}

func (b *IRCBot) handleConn() {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	err := client.Run()
	if err != nil {
		log.Printf("IRC error: %s", err)
	}

	b.mu.Lock()
	b.online = false
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.mu.Unlock()
}

func (b *IRCBot) Reply(format string, rest ...interface{}) {
	if b.writer == nil {
		log.Printf("reply without connection: "+format, rest...)
		return
	}
	err := b.writer.WriteMessage(&irc.Message{
		Command: "PRIVMSG",
		Params: []string{
			"#" + b.ChannelName,
			fmt.Sprintf(format, rest...),
		},
	})
	if err != nil {
		log.Printf("cannot send reply: %s", err)
	}
}

// parseScalar reads a chat argument as a number or a bool, falling back
// to the string itself.
func parseScalar(s string) interface{} {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(s); err == nil {
		return v
	}
	return s
}

func (b *IRCBot) ProcessMessage(ctx context.Context, from, msg string) error {
	flds := strings.Fields(msg)
	if len(flds) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.e == nil {
		return fmt.Errorf("script is not loaded, ignoring %q: %q", from, msg)
	}

	if !strings.HasPrefix(flds[0], "!") {
		return nil
	}

	cmd := flds[0][1:]
	_, err := b.e.Get("cmd_" + cmd)
	if err != nil {
		return fmt.Errorf("Unrecognized command: %q: %s", cmd, err)
	}

	args := make([]string, 0, len(flds)-1)
	for _, arg := range flds[1:] {
		args = append(args, fmt.Sprintf("%q", arg))
	}

	script := fmt.Sprintf("cmd_%s(%s)", cmd, strings.Join(args, ", "))
	e := b.e.DeepCopy()
	ctx = context.WithValue(ctx, "from_user", from)

	go func(ctx context.Context, e *env.Env) {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		_, err := vm.ExecuteContext(ctx, e, nil, script)
		if err != nil {
			log.Printf("cannot execute script %q: %s", script, err)
			return
		}
	}(ctx, e)

	return nil
}

func (b *IRCBot) Handle(c *irc.Client, m *irc.Message) {
	b.mu.Lock()
	ch := b.ChannelName
	b.mu.Unlock()

	if m.Command == "001" {
		// 001 is a welcome event, so we join channels there
		c.Write("JOIN #" + ch)
	} else if m.Command == "PRIVMSG" && c.FromChannel(m) {
		msg := m.Trailing()
		if m.Prefix == nil {
			log.Printf("bogus message: %#v", m)
			return
		}

		from := m.Prefix.User
		err := b.ProcessMessage(context.Background(), from, msg)
		if err != nil {
			log.Println(err)
		}
	}
}

func (b *IRCBot) IsOnline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.online
}

func (b *IRCBot) LoadScript(script string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errors []error

	b.e = env.NewEnv()
	_, err := vm.Execute(b.e, nil, `
func from() {
	return "<FAIL>"
}
	`)
	if err != nil {
		return err
	}

	orig_from, err := b.e.Get("from")
	errors = append(errors, err)
	errors = append(errors, b.e.Set("from", func(ctx context.Context) (reflect.Value, reflect.Value) {
		from := ctx.Value("from_user")
		_, err := orig_from.(func(context.Context) (reflect.Value, reflect.Value))(ctx)
		return reflect.ValueOf(from), err
	}))
	errors = append(errors, b.e.Define("admin", b.AdminName))
	errors = append(errors, b.e.Define("reply", func(format string, args ...interface{}) {
		b.mu.Lock()
		defer b.mu.Unlock()

		t0 := time.Now()
		t1 := b.LastBuckets["reply"]
		if t0.Before(t1) {
			return
		}
		b.Reply(format, args...)
		b.LastBuckets["reply"] = time.Now().Add(time.Second)
	}))
	errors = append(errors, b.e.Define("get", func(key string) interface{} {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		v, err := b.Host.Get(ctx, key)
		if err != nil {
			log.Printf("cannot get %q: %s", key, err)
			return nil
		}
		return v
	}))
	errors = append(errors, b.e.Define("set", func(key string, value interface{}) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if s, ok := value.(string); ok {
			value = parseScalar(s)
		}
		return b.Host.Set(ctx, key, value)
	}))
	errors = append(errors, b.e.Define("toggle", func(key string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		return b.Host.Toggle(ctx, key)
	}))
	errors = append(errors, b.e.Define("reset_default", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		return b.Host.ResetToDefault(ctx)
	}))
	errors = append(errors, b.e.Define("reset_vanilla", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		return b.Host.ResetToVanilla(ctx)
	}))
	errors = append(errors, b.e.Define("settings", func() []string {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		paths, err := b.Host.Paths(ctx)
		if err != nil {
			log.Printf("cannot list settings: %s", err)
		}
		return paths
	}))
	errors = append(errors, b.e.Define("last", func(key string) int64 {
		b.mu.Lock()
		defer b.mu.Unlock()

		t, ok := b.LastBuckets[key]
		if ok {
			return t.Unix()
		} else {
			return 0
		}
	}))
	errors = append(errors, b.e.Define("set_last", func(key string, delta int64) {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.LastBuckets[key] = time.Now().Add(time.Duration(delta) * time.Second)
	}))
	errors = append(errors, b.e.Define("rate", func(key string, delta int64) bool {
		b.mu.Lock()
		defer b.mu.Unlock()

		t, ok := b.LastBuckets[key]
		if !ok || time.Now().After(t) {
			b.LastBuckets[key] = time.Now().Add(time.Duration(delta) * time.Second)
			return true
		} else {
			return false
		}
	}))
	errors = append(errors, b.e.Define("int", func(token string) int64 {
		n, err := strconv.ParseInt(token, 0, 64)
		if err != nil {
			log.Printf("cannot convert %q to int: %s", token, err)
			return -1
		}
		return n
	}))
	errors = append(errors, b.e.Define("float", func(token string) float64 {
		f, err := strconv.ParseFloat(token, 64)
		if err != nil {
			log.Printf("cannot convert %q to float: %s", token, err)
			return 0
		}
		return f
	}))
	errors = append(errors, b.e.Define("join", strings.Join))
	errors = append(errors, b.e.Define("sprintf", fmt.Sprintf))
	errors = append(errors, b.e.Define("list_cmds", func() (result []string) {
		for _, line := range strings.Split(b.e.String(), "\n") {
			if strings.HasPrefix(line, "cmd_") {
				kv := strings.SplitN(line, " = ", 2)
				if len(kv) < 2 {
					continue
				}

				result = append(
					result,
					strings.TrimPrefix(kv[0], "cmd_"),
				)
			}
		}

		sort.Strings(result)
		return
	}))
	for _, err := range errors {
		if err != nil {
			return err
		}
	}

	_, err = vm.Execute(b.e, nil, script)
	if err != nil {
		return err
	}

	b.Script = script
	return nil
}

func (b *IRCBot) Configure(config *Config) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Server = config.ChatServer
	b.TLS = config.ChatTLS
	b.UserName = config.ChatNick
	b.Password = config.ChatPassword
	b.ChannelName = strings.TrimPrefix(config.ChatChannel, "#")
	b.AdminName = config.ChatAdmin
}

var ErrChatNotConfigured = errors.New("chat is not configured")

func (b *IRCBot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.online {
		return nil
	}

	if b.Server == "" || b.UserName == "" || b.ChannelName == "" {
		return ErrChatNotConfigured
	}

	var conn net.Conn
	var err error
	if b.TLS {
		conn, err = tls.Dial("tcp", b.Server, nil)
	} else {
		conn, err = net.Dial("tcp", b.Server)
	}
	if err != nil {
		return err
	}

	b.client = irc.NewClient(conn, irc.ClientConfig{
		Nick:    b.UserName,
		Pass:    b.Password,
		User:    b.UserName,
		Name:    b.UserName,
		Handler: b,
	})

	b.writer = b.client
	b.conn = conn
	go b.handleConn()
	b.online = true

	return nil
}

func (b *IRCBot) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.online = false
}

// vim: ai:ts=8:sw=8:noet:syntax=go
