// Package config builds the single configuration value shared by the
// commands. Precedence, lowest first: defaults, TOML file, environment,
// explicitly set flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is constructed once at process start and passed down explicitly.
type Config struct {
	// Server under test.
	Host     string
	Port     int
	Password string

	// Session timing.
	Timeout      time.Duration
	ReplyTimeout time.Duration
	Window       time.Duration

	// Policy selects how the not-joined channel scenario is judged:
	// strict or lenient.
	Policy string

	LogFormat       string
	LogLevel        string
	MetricsAddr     string
	LogMetricsEvery time.Duration

	MDNSBrowse  bool
	MDNSTimeout time.Duration

	// Reference server.
	ListenAddr   string
	ServerName   string
	HubBuffer    int
	HubPolicy    string
	MaxClients   int
	ClientReadTO time.Duration
	MDNSEnable   bool
	MDNSName     string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:         "localhost",
		Port:         6667,
		Password:     "password",
		Timeout:      5 * time.Second,
		ReplyTimeout: 2 * time.Second,
		Window:       time.Second,
		Policy:       "strict",
		LogFormat:    "text",
		LogLevel:     "info",
		MDNSTimeout:  3 * time.Second,
		ListenAddr:   ":6667",
		ServerName:   "ircrefd",
		HubBuffer:    512,
		HubPolicy:    "drop",
		ClientReadTO: 60 * time.Second,
	}
}

// BindClient registers the flags shared by commands that drive a server.
func (c *Config) BindClient(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "Server host")
	fs.IntVar(&c.Port, "port", c.Port, "Server port")
	fs.StringVar(&c.Password, "password", c.Password, "Connection password (PASS)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Connect/send/receive timeout")
	fs.DurationVar(&c.ReplyTimeout, "reply-timeout", c.ReplyTimeout, "Bounded wait for an expected reply")
	fs.DurationVar(&c.Window, "window", c.Window, "Receive window used when draining lines")
	fs.StringVar(&c.Policy, "policy", c.Policy, "Not-joined channel reply policy: strict|lenient")
	fs.BoolVar(&c.MDNSBrowse, "mdns-browse", c.MDNSBrowse, "Resolve host/port via mDNS instead of -host/-port")
	fs.DurationVar(&c.MDNSTimeout, "mdns-timeout", c.MDNSTimeout, "mDNS browse timeout")
	c.bindCommon(fs)
}

// BindServer registers the reference server flags.
func (c *Config) BindServer(fs *flag.FlagSet) {
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "TCP listen address")
	fs.StringVar(&c.Password, "password", c.Password, "Connection password; empty disables PASS checking")
	fs.StringVar(&c.ServerName, "name", c.ServerName, "Server name used as reply prefix")
	fs.IntVar(&c.HubBuffer, "hub-buffer", c.HubBuffer, "Per-client outbound queue (lines)")
	fs.StringVar(&c.HubPolicy, "hub-policy", c.HubPolicy, "Backpressure policy: drop|kick")
	fs.IntVar(&c.MaxClients, "max-clients", c.MaxClients, "Maximum simultaneous clients (0 = unlimited)")
	fs.DurationVar(&c.ClientReadTO, "client-read-timeout", c.ClientReadTO, "Per-connection read deadline")
	fs.BoolVar(&c.MDNSEnable, "mdns-enable", c.MDNSEnable, "Advertise the server via mDNS")
	fs.StringVar(&c.MDNSName, "mdns-name", c.MDNSName, "mDNS instance name (default ircrefd-<hostname>)")
	c.bindCommon(fs)
}

func (c *Config) bindCommon(fs *flag.FlagSet) {
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: text|json")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&c.LogMetricsEvery, "log-metrics-interval", c.LogMetricsEvery, "If >0, periodically log metrics counters")
}

// Load layers the optional TOML file and the environment under the flags
// already parsed into c, then validates the result.
func Load(fs *flag.FlagSet, c *Config, path string) error {
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if path != "" {
		if err := LoadFile(path, c, set); err != nil {
			return err
		}
	}
	if err := ApplyEnv(c, set); err != nil {
		return err
	}
	return c.Validate()
}

// Validate performs semantic validation of values and ranges. It does not
// open sockets.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	switch c.Policy {
	case "strict", "lenient":
	default:
		return fmt.Errorf("invalid policy: %s", c.Policy)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	switch c.HubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.HubPolicy)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if c.ReplyTimeout <= 0 {
		return errors.New("reply-timeout must be > 0")
	}
	if c.Window <= 0 {
		return errors.New("window must be > 0")
	}
	if c.MDNSTimeout <= 0 {
		return errors.New("mdns-timeout must be > 0")
	}
	if c.HubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.HubBuffer)
	}
	if c.MaxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	if c.ClientReadTO <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	if c.LogMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

// fileConfig mirrors Config with TOML keys; durations are strings.
type fileConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	Password          string `toml:"password"`
	Timeout           string `toml:"timeout"`
	ReplyTimeout      string `toml:"reply_timeout"`
	Window            string `toml:"window"`
	Policy            string `toml:"policy"`
	LogFormat         string `toml:"log_format"`
	LogLevel          string `toml:"log_level"`
	MetricsAddr       string `toml:"metrics_addr"`
	LogMetricsEvery   string `toml:"log_metrics_interval"`
	MDNSBrowse        bool   `toml:"mdns_browse"`
	MDNSTimeout       string `toml:"mdns_timeout"`
	ListenAddr        string `toml:"listen"`
	ServerName        string `toml:"name"`
	HubBuffer         int    `toml:"hub_buffer"`
	HubPolicy         string `toml:"hub_policy"`
	MaxClients        int    `toml:"max_clients"`
	ClientReadTimeout string `toml:"client_read_timeout"`
	MDNSEnable        bool   `toml:"mdns_enable"`
	MDNSName          string `toml:"mdns_name"`
}

// LoadFile applies keys defined in the TOML file at path, skipping any whose
// flag appears in set.
func LoadFile(path string, c *Config, set map[string]struct{}) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undec[0].String())
	}
	// key is the TOML key; its flag is the same name with '-' separators.
	use := func(key string) bool {
		if !meta.IsDefined(key) {
			return false
		}
		_, flagSet := set[strings.ReplaceAll(key, "_", "-")]
		return !flagSet
	}
	dur := func(key, v string, dst *time.Duration) error {
		if !use(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	if use("host") {
		c.Host = strings.TrimSpace(raw.Host)
	}
	if use("port") {
		c.Port = raw.Port
	}
	if use("password") {
		c.Password = raw.Password
	}
	if use("policy") {
		c.Policy = strings.TrimSpace(raw.Policy)
	}
	if use("log_format") {
		c.LogFormat = raw.LogFormat
	}
	if use("log_level") {
		c.LogLevel = raw.LogLevel
	}
	if use("metrics_addr") {
		c.MetricsAddr = raw.MetricsAddr
	}
	if use("mdns_browse") {
		c.MDNSBrowse = raw.MDNSBrowse
	}
	if use("listen") {
		c.ListenAddr = raw.ListenAddr
	}
	if use("name") {
		c.ServerName = raw.ServerName
	}
	if use("hub_buffer") {
		c.HubBuffer = raw.HubBuffer
	}
	if use("hub_policy") {
		c.HubPolicy = raw.HubPolicy
	}
	if use("max_clients") {
		c.MaxClients = raw.MaxClients
	}
	if use("mdns_enable") {
		c.MDNSEnable = raw.MDNSEnable
	}
	if use("mdns_name") {
		c.MDNSName = raw.MDNSName
	}
	for _, d := range []struct {
		key string
		v   string
		dst *time.Duration
	}{
		{"timeout", raw.Timeout, &c.Timeout},
		{"reply_timeout", raw.ReplyTimeout, &c.ReplyTimeout},
		{"window", raw.Window, &c.Window},
		{"log_metrics_interval", raw.LogMetricsEvery, &c.LogMetricsEvery},
		{"mdns_timeout", raw.MDNSTimeout, &c.MDNSTimeout},
		{"client_read_timeout", raw.ClientReadTimeout, &c.ClientReadTO},
	} {
		if err := dur(d.key, d.v, d.dst); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnv maps environment variables to config fields unless the matching
// flag was explicitly set. Empty values are ignored. Durations use
// time.ParseDuration format. The first parse error is returned after all
// variables were considered.
func ApplyEnv(c *Config, set map[string]struct{}) error {
	var firstErr error
	fail := func(k string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", k, err)
		}
	}
	get := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := get(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, dst *int) {
		if v, ok := get(flagName, key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = n
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := get(flagName, key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(flagName, key string, dst *bool) {
		if v, ok := get(flagName, key); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(key, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("host", "IRC_SERVER_HOST", &c.Host)
	num("port", "IRC_SERVER_PORT", &c.Port)
	// An explicitly empty password is meaningful for the reference server.
	if _, ok := set["password"]; !ok {
		if v, ok := os.LookupEnv("IRC_SERVER_PASSWORD"); ok {
			c.Password = v
		}
	}
	dur("timeout", "IRCPROBE_TIMEOUT", &c.Timeout)
	dur("reply-timeout", "IRCPROBE_REPLY_TIMEOUT", &c.ReplyTimeout)
	dur("window", "IRCPROBE_WINDOW", &c.Window)
	str("policy", "IRCPROBE_POLICY", &c.Policy)
	str("log-format", "IRCPROBE_LOG_FORMAT", &c.LogFormat)
	str("log-level", "IRCPROBE_LOG_LEVEL", &c.LogLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := os.LookupEnv("IRCPROBE_METRICS"); ok {
			c.MetricsAddr = strings.TrimSpace(v)
		}
	}
	dur("log-metrics-interval", "IRCPROBE_LOG_METRICS_INTERVAL", &c.LogMetricsEvery)
	boolean("mdns-browse", "IRCPROBE_MDNS_BROWSE", &c.MDNSBrowse)
	dur("mdns-timeout", "IRCPROBE_MDNS_TIMEOUT", &c.MDNSTimeout)
	str("listen", "IRCPROBE_LISTEN", &c.ListenAddr)
	str("name", "IRCPROBE_SERVER_NAME", &c.ServerName)
	num("hub-buffer", "IRCPROBE_HUB_BUFFER", &c.HubBuffer)
	str("hub-policy", "IRCPROBE_HUB_POLICY", &c.HubPolicy)
	num("max-clients", "IRCPROBE_MAX_CLIENTS", &c.MaxClients)
	dur("client-read-timeout", "IRCPROBE_CLIENT_READ_TIMEOUT", &c.ClientReadTO)
	boolean("mdns-enable", "IRCPROBE_MDNS_ENABLE", &c.MDNSEnable)
	str("mdns-name", "IRCPROBE_MDNS_NAME", &c.MDNSName)
	return firstErr
}
