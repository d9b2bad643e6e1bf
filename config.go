package main

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/contrib/renders/multitemplate"
	"github.com/gin-gonic/gin"
)

//go:embed all:templates assets tweaks
var bundled embed.FS

var ErrNoConfig = errors.New("config directory is not initialized")

type Config struct {
	Listen    string `json:"listen"`
	ToggleKey string `json:"toggle_key"`

	ChatServer   string `json:"chat_server,omitempty"`
	ChatTLS      bool   `json:"chat_tls"`
	ChatNick     string `json:"chat_nick,omitempty"`
	ChatPassword string `json:"chat_password,omitempty"`
	ChatChannel  string `json:"chat_channel,omitempty"`
	ChatAdmin    string `json:"chat_admin,omitempty"`

	Tweaks Document `json:"tweaks,omitempty"`
	Script string   `json:"-"`

	configDir string
	bundled   fs.FS
}

func (c *Config) SetDefaultScript() {
	c.Script = `
cmd_echo = func(flds...) {
  reply("echo for %q: %q", from(), join(flds, " "))
}

cmd_get = func(key) {
  reply("%s = %v", key, get(key))
}

cmd_set = func(key, value) {
  if from() != admin {
    reply("Forbidden, %q != %q.", from(), admin)
    return
  }
  err = set(key, value)
  if err != nil {
    reply("cannot set %s: %s", key, err)
  } else {
    reply("%s = %v", key, get(key))
  }
}

cmd_toggle = func(key) {
  if from() != admin {
    reply("Forbidden, %q != %q.", from(), admin)
    return
  }
  err = toggle(key)
  if err != nil {
    reply("cannot toggle %s: %s", key, err)
  } else {
    reply("%s = %v", key, get(key))
  }
}

cmd_vanilla = func() {
  if from() == admin {
    reset_vanilla()
    reply("All tweaks are set to vanilla values.")
  }
}

cmd_defaults = func() {
  if from() == admin {
    reset_default()
    reply("All tweaks are set to their defaults.")
  }
}

cmd_settings = func() {
  reply("%s", join(settings(), ", "))
}

cmd_help = func() {
  reply("Commands: %s", join(list_cmds(), ", "))
}
`
}

func (c *Config) SetDefaults() {
	c.Listen = "localhost:8666"
	c.ToggleKey = "F8"

	c.ChatServer = "irc.chat.twitch.tv:6697"
	c.ChatTLS = true
	c.ChatNick = ""
	c.ChatPassword = ""
	c.ChatChannel = ""
	c.ChatAdmin = ""

	c.Tweaks = Document{}
}

func (c *Config) Init() error {
	cfgdir, err := os.UserConfigDir()
	if err != nil {
		return err
	}

	return c.InitDir(filepath.Join(cfgdir, "swqol"))
}

// InitDir uses dir as the configuration directory, creating it when
// missing.
func (c *Config) InitDir(dir string) error {
	c.configDir = dir
	c.bundled = bundled

	err := os.MkdirAll(c.configDir, 0777)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}

	return nil
}

func (c *Config) Dir() string {
	return c.configDir
}

func (c *Config) Load() error {
	if c.configDir == "" {
		return ErrNoConfig
	}
	for _, fn := range []func() error{c.LoadConfig, c.LoadScript} {
		err := fn()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) LoadConfig() error {
	c.SetDefaults()

	f, err := os.Open(filepath.Join(c.configDir, "config.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	err = dec.Decode(c)
	if err != nil {
		return fmt.Errorf("cannot decode config.json: %w", err)
	}

	if c.Tweaks == nil {
		c.Tweaks = Document{}
	}

	return nil
}

func (c *Config) LoadScript() error {
	b, err := os.ReadFile(filepath.Join(c.configDir, "script.anko"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.SetDefaultScript()
			return nil
		}

		return err
	}

	c.Script = string(b)
	return nil
}

func (c Config) Save() error {
	if c.configDir == "" {
		return ErrNoConfig
	}
	for _, fn := range []func() error{c.SaveConfig, c.SaveScript} {
		err := fn()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Config) SaveConfig() error {
	f, err := os.OpenFile(filepath.Join(c.configDir, "config.json"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	err = enc.Encode(c)
	if err != nil {
		return err
	}

	return nil
}

func (c Config) SaveScript() error {
	f, err := os.OpenFile(filepath.Join(c.configDir, "script.anko"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write([]byte(c.Script))
	if err != nil {
		return err
	}

	return nil
}

// File is either a user file from the config directory or a bundled one.
type File struct {
	Name string
	Path string
	fsys fs.FS
}

func (f File) Read() ([]byte, error) {
	if f.fsys != nil {
		return fs.ReadFile(f.fsys, f.Path)
	}
	return os.ReadFile(f.Path)
}

func skipFile(name string) bool {
	return strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}

// ReadDir lists dirname from the config directory, followed by the
// bundled files the user has not overridden.
func (c Config) ReadDir(dirname string) ([]File, error) {
	locals := make(map[string]bool)
	var result []File

	if c.configDir != "" {
		entries, err := os.ReadDir(filepath.Join(c.configDir, dirname))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() || skipFile(entry.Name()) {
				continue
			}

			locals[entry.Name()] = true
			result = append(result, File{
				Name: entry.Name(),
				Path: filepath.Join(c.configDir, dirname, entry.Name()),
			})
		}
	}

	fsys := c.bundled
	if fsys == nil {
		fsys = bundled
	}
	entries, err := fs.ReadDir(fsys, dirname)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || skipFile(entry.Name()) {
			continue
		}

		if locals[entry.Name()] {
			continue
		}

		result = append(result, File{
			Name: entry.Name(),
			Path: path.Join(dirname, entry.Name()),
			fsys: fsys,
		})
	}

	return result, nil
}

func (c Config) InitAssetsTemplates(r *gin.Engine) error {
	var err error
	var data []byte
	var tmpl *template.Template

	var names, pnames []File

	template_files, err := c.ReadDir("templates")
	if err != nil {
		return err
	}
	for _, f := range template_files {
		if strings.HasPrefix(f.Name, "_") {
			pnames = append(pnames, f)
		} else {
			names = append(names, f)
		}
	}

	funcs := template.FuncMap{
		"join":  strings.Join,
		"lower": strings.ToLower,
	}

	render := multitemplate.New()
	ptmpls := make(map[string]*template.Template)
	for _, pf := range pnames {
		if data, err = pf.Read(); err != nil {
			return fmt.Errorf("cannot open %q while iterating over partials: %w", pf.Path, err)
		}
		pname := strings.TrimSuffix(pf.Name, ".html")
		if tmpl, err = template.New(pname).Funcs(funcs).Parse(string(data)); err != nil {
			return fmt.Errorf("cannot parse template %q: %w", pname, err)
		}
		ptmpls[pname] = tmpl
	}
	for _, f := range names {
		if data, err = f.Read(); err != nil {
			return fmt.Errorf("cannot open %q while iterating over templates: %w", f.Path, err)
		}
		if tmpl, err = template.New(f.Name).Funcs(funcs).Parse(string(data)); err != nil {
			return fmt.Errorf("cannot parse template %q: %w", f.Name, err)
		}
		for pname, ptmpl := range ptmpls {
			_, err = tmpl.AddParseTree(pname, ptmpl.Tree)
			if err != nil {
				return fmt.Errorf("cannot add %q to %q: %w", pname, f.Name, err)
			}
		}
		render.Add(f.Name, tmpl)
	}
	r.HTMLRender = render

	asset_files, err := c.ReadDir("assets")
	if err != nil {
		return err
	}
	for _, f := range asset_files {
		f := f
		r.GET("/"+f.Name, func(c *gin.Context) {
			data, err := f.Read()
			if err != nil {
				c.AbortWithError(404, err)
				return
			}
			c.Data(200, mime.TypeByExtension(filepath.Ext(f.Name)), data)
		})
	}
	return nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
