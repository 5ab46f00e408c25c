package mixengine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shaban/mixengine/engine/plugin"
	"github.com/shaban/mixengine/engine/spec"
	"github.com/sirupsen/logrus"
)

// PanLaw selects how pan maps to left/right gains on stereo outputs.
type PanLaw int

const (
	// PanBalance keeps unity at center and attenuates the opposite side.
	PanBalance PanLaw = iota
	// PanConstantPower keeps the summed power constant (-3 dB at center).
	PanConstantPower
)

func (l PanLaw) String() string {
	switch l {
	case PanBalance:
		return "balance"
	case PanConstantPower:
		return "constant_power"
	default:
		return fmt.Sprintf("panlaw(%d)", int(l))
	}
}

// ParsePanLaw parses the names returned by PanLaw.String.
func ParsePanLaw(s string) (PanLaw, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "balance":
		return PanBalance, nil
	case "constant_power", "constant-power", "constantpower":
		return PanConstantPower, nil
	default:
		return 0, fmt.Errorf("%w: unknown pan law %q", ErrInvalidConfig, s)
	}
}

// Config holds engine construction options. Zero fields take the values
// from DefaultConfig.
type Config struct {
	Name         string
	Spec         spec.AudioSpec // used by Initialize when called with a zero spec
	Logger       *logrus.Logger
	ErrorHandler ErrorHandler  // defaults to DefaultErrorHandler on Logger
	Loader       plugin.Loader // defaults to plugin.DefaultRegistry()
	Host         Host          // optional audio I/O layer opened by Initialize

	MaxVolume   float64       // upper bound of node volume, linear
	PanLaw      PanLaw        // stereo pan law
	ChainBudget time.Duration // per-node processing budget, 0 disables

	PollInterval   time.Duration // monitor base polling interval
	DisableMonitor bool
	ErrorQueueSize int // real-time error ring capacity
	MIDIQueueSize  int // per-instrument MIDI ring capacity
	RecordDir      string

	OnNodeError    func(RTError)
	OnDeadlineMiss func(total uint64)
}

// Defaults applied by NewEngine.
const (
	DefaultMaxVolume      = 4.0
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultErrorQueueSize = 256
	DefaultMIDIQueueSize  = 256
)

// DefaultConfig returns the configuration NewEngine uses for unset fields.
func DefaultConfig() Config {
	return Config{
		Name:           "mixengine",
		Spec:           spec.DefaultAudioSpec(),
		MaxVolume:      DefaultMaxVolume,
		PanLaw:         PanBalance,
		PollInterval:   DefaultPollInterval,
		ErrorQueueSize: DefaultErrorQueueSize,
		MIDIQueueSize:  DefaultMIDIQueueSize,
		RecordDir:      os.TempDir(),
	}
}

func (c Config) withDefaults() (Config, error) {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Spec == (spec.AudioSpec{}) {
		c.Spec = def.Spec
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = &DefaultErrorHandler{Logger: c.Logger}
	}
	if c.Loader == nil {
		c.Loader = plugin.DefaultRegistry()
	}
	if c.MaxVolume == 0 {
		c.MaxVolume = def.MaxVolume
	}
	if c.MaxVolume < 0 {
		return c, fmt.Errorf("%w: max volume %v", ErrInvalidConfig, c.MaxVolume)
	}
	if c.ChainBudget < 0 {
		return c, fmt.Errorf("%w: chain budget %v", ErrInvalidConfig, c.ChainBudget)
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollInterval < minPollInterval {
		return c, fmt.Errorf("%w: poll interval %v below %v", ErrInvalidConfig, c.PollInterval, minPollInterval)
	}
	if c.ErrorQueueSize <= 0 {
		c.ErrorQueueSize = def.ErrorQueueSize
	}
	if c.MIDIQueueSize <= 0 {
		c.MIDIQueueSize = def.MIDIQueueSize
	}
	if c.RecordDir == "" {
		c.RecordDir = def.RecordDir
	}
	return c, nil
}

// Environment variables read by LoadConfig.
const (
	EnvSampleRate   = "MIXENGINE_SAMPLE_RATE"
	EnvBufferSize   = "MIXENGINE_BUFFER_SIZE"
	EnvChannels     = "MIXENGINE_CHANNELS"
	EnvBitDepth     = "MIXENGINE_BIT_DEPTH"
	EnvLatency      = "MIXENGINE_LATENCY"
	EnvLogLevel     = "MIXENGINE_LOG_LEVEL"
	EnvMaxVolume    = "MIXENGINE_MAX_VOLUME"
	EnvPanLaw       = "MIXENGINE_PAN_LAW"
	EnvChainBudget  = "MIXENGINE_CHAIN_BUDGET"
	EnvPollInterval = "MIXENGINE_POLL_INTERVAL"
	EnvRecordDir    = "MIXENGINE_RECORD_DIR"
)

// LoadConfig reads envFile (when present) into the process environment and
// builds a Config from the MIXENGINE_* variables. A missing file is not an
// error; variables already set in the environment take precedence.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	var prefs spec.Preferences
	var err error

	if prefs.PreferredSampleRate, err = envFloat(EnvSampleRate); err != nil {
		return cfg, err
	}
	if prefs.BufferSize, err = envInt(EnvBufferSize); err != nil {
		return cfg, err
	}
	if prefs.ChannelCount, err = envInt(EnvChannels); err != nil {
		return cfg, err
	}
	if prefs.BitDepth, err = envInt(EnvBitDepth); err != nil {
		return cfg, err
	}
	prefs.LatencyHint = spec.LatencyClass(strings.ToLower(os.Getenv(EnvLatency)))
	cfg.Spec = spec.Resolve(prefs)
	if err := spec.Validate(cfg.Spec); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		level, err := logrus.ParseLevel(lvl)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvLogLevel, err)
		}
		logger := logrus.New()
		logger.SetLevel(level)
		cfg.Logger = logger
	}
	if v, err := envFloat(EnvMaxVolume); err != nil {
		return cfg, err
	} else if v > 0 {
		cfg.MaxVolume = v
	}
	if cfg.PanLaw, err = ParsePanLaw(os.Getenv(EnvPanLaw)); err != nil {
		return cfg, err
	}
	if d, err := envDuration(EnvChainBudget); err != nil {
		return cfg, err
	} else if d > 0 {
		cfg.ChainBudget = d
	}
	if d, err := envDuration(EnvPollInterval); err != nil {
		return cfg, err
	} else if d > 0 {
		cfg.PollInterval = d
	}
	if dir := os.Getenv(EnvRecordDir); dir != "" {
		cfg.RecordDir = dir
	}
	return cfg, nil
}

func envInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
	}
	return n, nil
}

func envFloat(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
	}
	return f, nil
}

func envDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
	}
	return d, nil
}
