package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"
)

// newRegistry builds every bundled and user tweak over region and applies
// the saved setting values.
func newRegistry(region *MemoryRegion, config *Config) *Registry {
	registry := NewRegistry(region)

	defs := builtinTweaks()
	user, err := LoadUserTweaks(config)
	if err != nil {
		log.Printf("cannot load user tweaks: %s", err)
	}
	defs = append(defs, user...)

	registry.Build(defs...)
	registry.LoadConfig(config.Tweaks)
	return registry
}

func newCSRF() (string, error) {
	buf := make([]byte, 16)
	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("cannot read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type panelError struct {
	Tweak string
	Text  string
}

func panelErrors(errs []error) []panelError {
	result := make([]panelError, 0, len(errs))
	for _, err := range errs {
		pe := panelError{Text: err.Error()}
		var terr *TweakError
		if errors.As(err, &terr) {
			pe.Tweak = terr.ID
			pe.Text = terr.Err.Error()
		}
		result = append(result, pe)
	}
	return result
}

// NewRouter serves the control panel of hud.
func NewRouter(hud *Hud, config *Config, ircbot *IRCBot, csrf string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	if err := config.InitAssetsTemplates(r); err != nil {
		return nil, fmt.Errorf("cannot init templates: %w", err)
	}

	checkCSRF := func(c *gin.Context) bool {
		if c.PostForm("csrf") != csrf {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "bad_csrf",
			})
			return false
		}
		return true
	}

	fail := func(c *gin.Context, err error) {
		c.HTML(http.StatusOK, "error.html", gin.H{"Error": err.Error()})
	}

	r.GET("/", func(c *gin.Context) {
		var ui *htmlUI
		var errs []panelError
		var visible bool
		err := hud.Do(c.Request.Context(), func() error {
			var err error
			ui, err = hud.Panel(nil)
			errs = panelErrors(hud.Registry.Errors())
			visible = hud.Visible()
			return err
		})
		if err != nil {
			fail(c, err)
			return
		}

		tab := c.Query("tab")
		if tab == "" {
			tab = "tweaks"
		}
		c.HTML(http.StatusOK, "index.html", gin.H{
			"CSRF":    csrf,
			"Tab":     tab,
			"Widgets": ui.Widgets,
			"Errors":  errs,
			"Visible": visible,
			"IRCBot":  ircbot,
			"Config":  config,
		})
	})

	r.POST("/settings", func(c *gin.Context) {
		var p struct {
			ID    string `form:"id" binding:"required"`
			Value string `form:"value"`
		}

		if !checkCSRF(c) {
			return
		}
		if err := c.ShouldBind(&p); err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}

		err := hud.Do(c.Request.Context(), func() error {
			_, err := hud.Panel(&Edit{ID: p.ID, Value: p.Value})
			if err != nil {
				return err
			}
			hud.changed(p.ID, p.Value)
			return nil
		})
		if err != nil {
			if c.GetHeader("X-Requested-With") != "" {
				c.AbortWithStatusJSON(http.StatusOK, gin.H{
					"error":       "setting_error",
					"description": err.Error(),
				})
				return
			}
			fail(c, err)
			return
		}

		if c.GetHeader("X-Requested-With") != "" {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		c.Redirect(http.StatusFound, "/?tab=tweaks")
	})

	r.POST("/reset/:target", func(c *gin.Context) {
		if !checkCSRF(c) {
			return
		}

		var err error
		switch c.Param("target") {
		case "default":
			err = hud.ResetToDefault(c.Request.Context())
		case "vanilla":
			err = hud.ResetToVanilla(c.Request.Context())
		default:
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.Redirect(http.StatusFound, "/?tab=tweaks")
	})

	r.POST("/config/save", func(c *gin.Context) {
		if !checkCSRF(c) {
			return
		}
		err := hud.SaveConfig(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.Redirect(http.StatusFound, "/?tab=tweaks")
	})

	r.POST("/errors/clear", func(c *gin.Context) {
		if !checkCSRF(c) {
			return
		}
		err := hud.Do(c.Request.Context(), func() error {
			hud.Registry.ClearErrors()
			return nil
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.Redirect(http.StatusFound, "/?tab=errors")
	})

	r.POST("/visibility", func(c *gin.Context) {
		if !checkCSRF(c) {
			return
		}
		err := hud.Do(c.Request.Context(), func() error {
			hud.SetVisible(!hud.Visible())
			return nil
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.Redirect(http.StatusFound, "/")
	})

	r.POST("/eject", func(c *gin.Context) {
		if !checkCSRF(c) {
			return
		}
		clean, err := hud.Eject(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		if !clean {
			c.Redirect(http.StatusFound, "/?tab=errors")
			return
		}
		c.HTML(http.StatusOK, "error.html", gin.H{
			"Title": "Ejected",
			"Error": "All tweaks are disabled, it is safe to unload.",
		})
	})

	loadScript := func(c *gin.Context) error {
		var p struct {
			Script string `form:"script"`
		}

		if err := c.ShouldBind(&p); err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return err
		}

		script := strings.TrimSpace(p.Script)
		if script == "" {
			script = config.Script
		}

		err := ircbot.LoadScript(script)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{
				"error":       "script_error",
				"description": err.Error(),
			})
			return err
		}

		config.Script = script
		if err := config.SaveScript(); err != nil {
			log.Printf("cannot save script: %s", err)
		}

		return nil
	}

	r.POST("/loadscript", func(c *gin.Context) {
		if !checkCSRF(c) {
			return
		}
		err := loadScript(c)
		if err != nil {
			return
		}
		c.Redirect(http.StatusFound, "/?tab=chat")
	})

	r.POST("/chat/connect", func(c *gin.Context) {
		var p struct {
			Server   string `form:"server"`
			TLS      bool   `form:"tls"`
			Nick     string `form:"nick"`
			Password string `form:"password"`
			Channel  string `form:"channel"`
			Admin    string `form:"admin"`
		}

		if !checkCSRF(c) {
			return
		}
		if err := c.ShouldBind(&p); err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}

		err := hud.Do(c.Request.Context(), func() error {
			config.ChatServer = p.Server
			config.ChatTLS = p.TLS
			config.ChatNick = p.Nick
			if p.Password != "" {
				config.ChatPassword = p.Password
			}
			config.ChatChannel = p.Channel
			config.ChatAdmin = p.Admin
			return hud.saveConfig()
		})
		if err != nil {
			log.Printf("%s", err)
		}

		err = loadScript(c)
		if err != nil {
			return
		}

		ircbot.Close()
		ircbot.Configure(config)
		err = ircbot.Start()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{
				"error":       "irc_error",
				"description": err.Error(),
			})
			return
		}
		c.Redirect(http.StatusFound, "/?tab=chat")
	})

	r.POST("/chat/disconnect", func(c *gin.Context) {
		if !checkCSRF(c) {
			return
		}
		ircbot.Close()
		c.Redirect(http.StatusFound, "/?tab=chat")
	})

	r.GET("/events/ws", func(c *gin.Context) {
		handler := websocket.Handler(func(ws *websocket.Conn) {
			defer ws.Close()
			enc := json.NewEncoder(ws)
			ch := hud.Alerter.Subscribe()
			for {
				select {
				case <-c.Request.Context().Done():
					return
				case event, ok := <-ch:
					if !ok {
						ch = hud.Alerter.Subscribe()
						continue
					}
					err := enc.Encode(event)
					if err != nil {
						log.Printf("cannot send event: %s", err)
						return
					}
				}
			}
		})
		handler.ServeHTTP(c.Writer, c.Request)
	})

	return r, nil
}

func openBrowser(u string) {
	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", u).Start()
	case "windows":
		err = exec.Command(
			"rundll32",
			"url.dll,FileProtocolHandler",
			u,
		).Start()
	case "darwin":
		err = exec.Command("open", u).Start()
	}
	if err != nil {
		log.Printf("cannot open browser: %s", err)
	}
}

// Serve runs the tweaks over region with a control panel until ctx is
// done or the tweaks are ejected.
func Serve(ctx context.Context, region *MemoryRegion, config *Config, browse bool) error {
	alerter := NewAlerter()
	hud := NewHud(newRegistry(region, config), config, alerter)

	ircbot := NewIRCBot(hud)
	ircbot.Configure(config)
	hud.Bot = ircbot
	if err := ircbot.LoadScript(config.Script); err != nil {
		log.Printf("cannot load chat script: %s", err)
	} else if config.ChatNick != "" && config.ChatChannel != "" {
		if err := ircbot.Start(); err != nil {
			log.Printf("cannot connect to chat: %s", err)
		}
	}

	csrf, err := newCSRF()
	if err != nil {
		return err
	}
	r, err := NewRouter(hud, config, ircbot, csrf)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", config.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: r}
	go func() {
		err := srv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("panel server: %s", err)
		}
	}()
	defer srv.Close()

	u := "http://" + l.Addr().String() + "/"
	log.Printf("Starting up a server on %s", u)
	if browse {
		go openBrowser(u)
	}

	err = hud.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// check reports which tweaks resolve against an image file.
func check(path string, config *Config) int {
	img, err := LoadImage(path)
	if err != nil {
		log.Printf("%s", err)
		return 2
	}
	registry := newRegistry(img.Region(), config)
	for _, t := range registry.Tweaks() {
		fmt.Printf("ok\t%s\n", t.ID)
	}
	for _, err := range registry.Errors() {
		fmt.Printf("FAIL\t%s\n", err)
	}
	if len(registry.Errors()) > 0 {
		return 1
	}
	return 0
}

const moduleName = "swqol.dll"

func injectHost() int {
	dll, err := moduleBeside(moduleName)
	if err != nil {
		log.Printf("cannot find %s: %s", moduleName, err)
		return 2
	}
	pid, err := FindProcess(hostProcess)
	if err != nil {
		log.Printf("%s", err)
		return 1
	}
	log.Printf("Injecting %s into %s (%d)", dll, hostProcess, pid)
	err = InjectDLL(pid, dll)
	if err != nil {
		log.Printf("cannot inject: %s", err)
		return 1
	}
	return 0
}

func main() {
	doInject := flag.Bool("inject", false, "load "+moduleName+" into the running "+hostProcess+" and exit")
	checkPath := flag.String("check", "", "resolve every tweak against `exe` and exit")
	imagePath := flag.String("image", "", "serve the panel over a copy of `exe` loaded into memory")
	configDir := flag.String("config", "", "configuration `dir`ectory")
	noBrowser := flag.Bool("no-browser", false, "do not open the panel in a browser")
	flag.Parse()

	if *doInject {
		os.Exit(injectHost())
	}

	config := &Config{}
	var err error
	if *configDir != "" {
		err = config.InitDir(*configDir)
	} else {
		err = config.Init()
	}
	if err != nil {
		log.Fatalf("cannot init config system: %s", err)
	}
	err = config.Load()
	if err != nil {
		log.Fatalf("error loading config file: %s", err)
	}

	if *checkPath != "" {
		os.Exit(check(*checkPath, config))
	}

	if *imagePath == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -inject | -image exe | -check exe\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "build with -tags dll -buildmode=c-shared to load into %s\n", hostProcess)
		os.Exit(2)
	}

	img, err := LoadImage(*imagePath)
	if err != nil {
		log.Fatalf("%s", err)
	}
	err = Serve(context.Background(), img.Region(), config, !*noBrowser)
	if err != nil {
		log.Fatalf("%s", err)
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
