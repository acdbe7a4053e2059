package config

import (
	"github.com/spf13/pflag"
)

// Flags holds command-line overrides. Only flags given explicitly override
// the loaded configuration.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath string
	Version    bool

	server   string
	token    string
	voice    string
	driver   string
	path     string
	autosave string
	ui       bool
	uiAddr   string
	logLevel string
	logJSON  bool
}

// NewFlags defines the agentc flag set.
func NewFlags(name string) *Flags {
	f := &Flags{fs: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	f.fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to config.yaml (default ~/.agentc/config.yaml)")
	f.fs.BoolVar(&f.Version, "version", false, "print version and exit")
	f.fs.StringVarP(&f.server, "server", "s", "", "Agent C server WebSocket URL")
	f.fs.StringVar(&f.token, "token", "", "API token sent as a bearer token")
	f.fs.StringVar(&f.voice, "voice", "", "default voice id")
	f.fs.StringVar(&f.driver, "storage", "", "session storage driver: json or sqlite")
	f.fs.StringVar(&f.path, "data-dir", "", "directory for stored sessions")
	f.fs.StringVar(&f.autosave, "autosave", "", "cron expression for session autosave")
	f.fs.BoolVar(&f.ui, "ui", false, "serve the local UI bridge")
	f.fs.StringVar(&f.uiAddr, "ui-addr", "", "UI bridge listen address")
	f.fs.StringVarP(&f.logLevel, "log-level", "l", "", "debug, info, warn or error")
	f.fs.BoolVar(&f.logJSON, "log-json", false, "log as JSON")
	return f
}

// FlagSet exposes the underlying set, for usage output.
func (f *Flags) FlagSet() *pflag.FlagSet { return f.fs }

// Parse parses args (without the program name).
func (f *Flags) Parse(args []string) error {
	return f.fs.Parse(args)
}

// Apply overlays explicitly set flags onto c.
func (f *Flags) Apply(c *Config) {
	set := func(name string, dst *string, v string) {
		if f.fs.Changed(name) {
			*dst = v
		}
	}
	set("server", &c.Server.URL, f.server)
	set("token", &c.Server.Token, f.token)
	set("voice", &c.Voice.Default, f.voice)
	set("storage", &c.Storage.Driver, f.driver)
	set("data-dir", &c.Storage.Path, f.path)
	set("autosave", &c.Storage.Autosave, f.autosave)
	set("ui-addr", &c.UI.Addr, f.uiAddr)
	set("log-level", &c.Log.Level, f.logLevel)

	if f.fs.Changed("ui") {
		c.UI.Enabled = f.ui
	}
	if f.fs.Changed("log-json") {
		if f.logJSON {
			c.Log.Format = "json"
		} else {
			c.Log.Format = "text"
		}
	}
}
