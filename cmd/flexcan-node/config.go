package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/flexcan"
	"github.com/kstaniek/go-flexcan/internal/logging"
)

type appConfig struct {
	configPath      string
	role            string
	instance        int
	instances       int
	filters         []can.Filter
	bus             flexcan.Config
	handshakeTO     time.Duration
	queueCapacity   int
	progressEvery   int
	backend         string
	canIf           string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	logFile         string
	logMaxSizeMB    int
	logMaxBackups   int
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

// fileConfig is the optional YAML file given with -config. Zero values leave
// the flag defaults in place.
type fileConfig struct {
	Role             string        `yaml:"role"`
	Instance         *int          `yaml:"instance"`
	Instances        int           `yaml:"instances"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	ProgressEvery    int           `yaml:"progress_every"`
	Backend          string        `yaml:"backend"`
	Filters          []can.Filter  `yaml:"filters"`
	Bus              *busEntry     `yaml:"bus"`
	Log              struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
}

// busEntry overrides the bit timing; an omitted phase keeps its default.
type busEntry struct {
	Nominal   *flexcan.NominalTiming `yaml:"nominal"`
	Data      *flexcan.DataTiming    `yaml:"data"`
	TDCOffset *uint32                `yaml:"tdc_offset"`
}

func defaultConfig() *appConfig {
	return &appConfig{
		role:          "pair",
		instance:      1,
		instances:     flexcan.MaxInstances,
		bus:           flexcan.DefaultConfig(),
		handshakeTO:   200 * time.Millisecond,
		queueCapacity: 40,
		progressEvery: 1000,
		backend:       "none",
		canIf:         "can0",
		serialDev:     "/dev/ttyUSB0",
		baud:          115200,
		serialReadTO:  50 * time.Millisecond,
		logFormat:     "text",
		logLevel:      "info",
		logMaxSizeMB:  10,
		logMaxBackups: 3,
	}
}

func parseFlags() (*appConfig, bool) {
	d := defaultConfig()
	cfg := &appConfig{}
	configPath := flag.String("config", "", "YAML file with role, filters and log settings")
	role := flag.String("role", d.role, "Node role: a|b|pair (pair runs both nodes on one simulated bus)")
	instance := flag.Int("instance", d.instance, "FlexCAN instance carrying the bounce traffic")
	instances := flag.Int("instances", d.instances, "FlexCAN instances per simulated board")
	handshakeTO := flag.Duration("handshake-timeout", d.handshakeTO, "Bound on every peripheral handshake")
	queueCap := flag.Int("queue-capacity", d.queueCapacity, "Reception queue depth per instance")
	progressEvery := flag.Int("progress-every", d.progressEvery, "Log a progress event every N received frames")
	backend := flag.String("backend", d.backend, "External bus link: none|socketcan|serial")
	canIf := flag.String("can-if", d.canIf, "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", d.serialDev, "Serial device path (when --backend=serial)")
	baud := flag.Int("baud", d.baud, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", d.serialReadTO, "Serial read timeout")
	logFormat := flag.String("log-format", d.logFormat, "Log format: text|json")
	logLevel := flag.String("log-level", d.logLevel, "Log level: debug|info|warn|error")
	logFile := flag.String("log-file", "", "Also write logs to this rotating file; empty disables")
	logMaxSize := flag.Int("log-max-size", d.logMaxSizeMB, "Rotate the log file after this many megabytes")
	logMaxBackups := flag.Int("log-max-backups", d.logMaxBackups, "Rotated log files to keep")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := flag.Bool("mdns-enable", false, "Advertise the metrics endpoint over mDNS")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default flexcan-node-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.configPath = *configPath
	cfg.bus = d.bus
	cfg.role = *role
	cfg.instance = *instance
	cfg.instances = *instances
	cfg.handshakeTO = *handshakeTO
	cfg.queueCapacity = *queueCap
	cfg.progressEvery = *progressEvery
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logFile = *logFile
	cfg.logMaxSizeMB = *logMaxSize
	cfg.logMaxBackups = *logMaxBackups
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if cfg.configPath != "" {
		fc, err := loadFileConfig(cfg.configPath)
		if err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
		applyFileConfig(cfg, fc, setFlags)
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func loadFileConfig(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &fc, nil
}

// applyFileConfig copies file settings into c unless the matching flag was
// given. Filters and bus timing only come from the file.
func applyFileConfig(c *appConfig, fc *fileConfig, set map[string]struct{}) {
	unset := func(name string) bool { _, ok := set[name]; return !ok }
	if fc.Role != "" && unset("role") {
		c.role = fc.Role
	}
	if fc.Instance != nil && unset("instance") {
		c.instance = *fc.Instance
	}
	if fc.Instances > 0 && unset("instances") {
		c.instances = fc.Instances
	}
	if fc.HandshakeTimeout > 0 && unset("handshake-timeout") {
		c.handshakeTO = fc.HandshakeTimeout
	}
	if fc.QueueCapacity > 0 && unset("queue-capacity") {
		c.queueCapacity = fc.QueueCapacity
	}
	if fc.ProgressEvery > 0 && unset("progress-every") {
		c.progressEvery = fc.ProgressEvery
	}
	if fc.Backend != "" && unset("backend") {
		c.backend = fc.Backend
	}
	if fc.Log.File != "" && unset("log-file") {
		c.logFile = fc.Log.File
	}
	if fc.Log.MaxSizeMB > 0 && unset("log-max-size") {
		c.logMaxSizeMB = fc.Log.MaxSizeMB
	}
	if fc.Log.MaxBackups > 0 && unset("log-max-backups") {
		c.logMaxBackups = fc.Log.MaxBackups
	}
	c.filters = c.filters[:0]
	for _, f := range fc.Filters {
		c.filters = append(c.filters, can.Filter{ID: f.ID & can.CAN_EFF_MASK, Mask: f.Mask & can.CAN_EFF_MASK})
	}
	if b := fc.Bus; b != nil {
		if b.Nominal != nil {
			c.bus.Nominal = *b.Nominal
		}
		if b.Data != nil {
			c.bus.Data = *b.Data
		}
		if b.TDCOffset != nil {
			c.bus.TDCOffset = *b.TDCOffset
		}
	}
}

// validate checks values and ranges only; it opens no devices.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.role {
	case "a", "b", "pair":
	default:
		return fmt.Errorf("invalid role: %s", c.role)
	}
	switch c.backend {
	case "none", "serial", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.instances < 1 || c.instances > flexcan.MaxInstances {
		return fmt.Errorf("instances must be in 1..%d (got %d)", flexcan.MaxInstances, c.instances)
	}
	if c.instance < 0 || c.instance >= c.instances {
		return fmt.Errorf("instance must be in 0..%d (got %d)", c.instances-1, c.instance)
	}
	if len(c.filters) > flexcan.FilterCount {
		return fmt.Errorf("at most %d filters (got %d)", flexcan.FilterCount, len(c.filters))
	}
	if !c.bus.Nominal.Valid() {
		return fmt.Errorf("bus nominal timing out of range: %+v", c.bus.Nominal)
	}
	if !c.bus.Data.Valid() {
		return fmt.Errorf("bus data timing out of range: %+v", c.bus.Data)
	}
	if c.bus.TDCOffset >= 1<<flexcan.FDCTRL_TDCOFF.Width {
		return fmt.Errorf("bus tdc_offset must be < %d (got %d)", 1<<flexcan.FDCTRL_TDCOFF.Width, c.bus.TDCOffset)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.queueCapacity <= 0 {
		return fmt.Errorf("queue-capacity must be > 0 (got %d)", c.queueCapacity)
	}
	if c.progressEvery <= 0 {
		return fmt.Errorf("progress-every must be > 0 (got %d)", c.progressEvery)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.logFile != "" && (c.logMaxSizeMB <= 0 || c.logMaxBackups < 0) {
		return fmt.Errorf("log rotation needs log-max-size > 0 and log-max-backups >= 0")
	}
	return nil
}

// applyEnvOverrides maps FLEXCAN_NODE_* environment variables to config
// fields unless the corresponding flag was given. Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, min int, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if firstErr == nil {
				if err == nil {
					err = fmt.Errorf("%d below %d", n, min)
				}
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}

	str("role", "FLEXCAN_NODE_ROLE", &c.role)
	num("instance", "FLEXCAN_NODE_INSTANCE", 0, &c.instance)
	num("instances", "FLEXCAN_NODE_INSTANCES", 1, &c.instances)
	dur("handshake-timeout", "FLEXCAN_NODE_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	num("queue-capacity", "FLEXCAN_NODE_QUEUE_CAPACITY", 1, &c.queueCapacity)
	num("progress-every", "FLEXCAN_NODE_PROGRESS_EVERY", 1, &c.progressEvery)
	str("backend", "FLEXCAN_NODE_BACKEND", &c.backend)
	str("can-if", "FLEXCAN_NODE_IF", &c.canIf)
	str("serial", "FLEXCAN_NODE_SERIAL", &c.serialDev)
	num("baud", "FLEXCAN_NODE_BAUD", 1, &c.baud)
	dur("serial-read-timeout", "FLEXCAN_NODE_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("log-format", "FLEXCAN_NODE_LOG_FORMAT", &c.logFormat)
	str("log-level", "FLEXCAN_NODE_LOG_LEVEL", &c.logLevel)
	str("log-file", "FLEXCAN_NODE_LOG_FILE", &c.logFile)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("FLEXCAN_NODE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	dur("log-metrics-interval", "FLEXCAN_NODE_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("FLEXCAN_NODE_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	str("mdns-name", "FLEXCAN_NODE_MDNS_NAME", &c.mdnsName)
	return firstErr
}
