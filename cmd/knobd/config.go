package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"knobd/internal/knob"
)

// Config is the top-level YAML configuration for the knobd daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	// HTTP API, state WebSocket and metrics
	HTTP HTTPConfig `yaml:"http"`

	// IPC configuration (knobctl and scripts)
	IPC IPCConfig `yaml:"ipc"`

	// Animation frame rate
	UpdateHz int `yaml:"update_hz"`

	// Rotary encoder policy shared by every knob with an input device
	Rotary RotaryFileConfig `yaml:"rotary"`

	// Commit fan-out
	Redis RedisConfig `yaml:"redis"`

	Knobs []KnobProfile `yaml:"knobs"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type RotaryFileConfig struct {
	VelocityWindowMS   int     `yaml:"velocity_window_ms"`
	VelocityMultiplier float64 `yaml:"velocity_multiplier"`
	VelocityThreshold  int     `yaml:"velocity_threshold"`
	ReleaseAfterMS     int     `yaml:"release_after_ms"`
}

type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password,omitempty"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// KnobProfile is one hosted knob: device metadata plus the controller setup.
type KnobProfile struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Location        string `yaml:"location,omitempty"`
	DeviceID        string `yaml:"device_id,omitempty"`
	FirmwareVersion string `yaml:"firmware_version,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled             *bool `yaml:"enabled,omitempty"`
	RequireConfirmation bool  `yaml:"require_confirmation"`

	Geometry GeometryConfig `yaml:"geometry"`

	// Exactly one of Range and Steps.
	Range *RangeConfig `yaml:"range,omitempty"`
	Steps []StepConfig `yaml:"steps,omitempty"`

	// Initial is a number (continuous) or a step id (discrete).
	Initial any `yaml:"initial,omitempty"`

	Spring        *SpringFileConfig `yaml:"spring,omitempty"`
	PressFeedback bool              `yaml:"press_feedback"`

	Input *InputConfig `yaml:"input,omitempty"`
}

type GeometryConfig struct {
	CenterX     float64 `yaml:"center_x"`
	CenterY     float64 `yaml:"center_y"`
	Radius      float64 `yaml:"radius"`
	ArcStartDeg float64 `yaml:"arc_start_deg"`
	ArcEndDeg   float64 `yaml:"arc_end_deg"`
	Reference   string  `yaml:"reference,omitempty"` // up|right|down|left
}

type RangeConfig struct {
	Min        float64 `yaml:"min"`
	Max        float64 `yaml:"max"`
	Resolution float64 `yaml:"resolution"`
}

type StepConfig struct {
	ID       string  `yaml:"id"`
	AngleDeg float64 `yaml:"angle_deg"`
	Label    string  `yaml:"label,omitempty"`
	Value    float64 `yaml:"value,omitempty"`
}

type SpringFileConfig struct {
	Tension  float64 `yaml:"tension"`
	Friction float64 `yaml:"friction"`
}

// InputConfig binds an evdev rotary encoder to a knob.
type InputConfig struct {
	Device           string  `yaml:"device"`
	DegreesPerDetent float64 `yaml:"degrees_per_detent,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// cookingSteps are the detents of the sample cooking knobs.
func cookingSteps() []StepConfig {
	return []StepConfig{
		{ID: "OFF", AngleDeg: 0, Label: "OFF", Value: 0},
		{ID: "SIM", AngleDeg: 60, Label: "SIM", Value: 60},
		{ID: "MEDIUM", AngleDeg: 120, Label: "MEDIUM", Value: 120},
		{ID: "HIGH", AngleDeg: 180, Label: "HIGH", Value: 200},
	}
}

// DefaultConfig returns a fully-populated Config with defaults, including the
// sample knobs so the daemon is usable without a config file.
func DefaultConfig() Config {
	cookingGeometry := GeometryConfig{CenterX: 150, CenterY: 150, Radius: 150, ArcStartDeg: 0, ArcEndDeg: 180}

	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Listen: defaultHTTPListen,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		UpdateHz: defaultUpdateHz,
		Rotary: RotaryFileConfig{
			VelocityWindowMS:   defaultRotaryVelocityWindowMS,
			VelocityMultiplier: defaultRotaryVelocityMultiplier,
			VelocityThreshold:  defaultRotaryVelocityThreshold,
			ReleaseAfterMS:     defaultEncoderReleaseMS,
		},
		Redis: RedisConfig{
			Enabled:       false,
			Addr:          "127.0.0.1:6379",
			ChannelPrefix: defaultRedisChannelPrefix,
		},
		Knobs: []KnobProfile{
			{
				ID:                  "kitchen",
				Name:                "Kitchen Knob",
				Location:            "Kitchen",
				DeviceID:            "INX_KB2401_2D86",
				FirmwareVersion:     "2.1.0",
				RequireConfirmation: true,
				Geometry:            cookingGeometry,
				Steps:               cookingSteps(),
				Initial:             "OFF",
				Spring:              &SpringFileConfig{Tension: 40, Friction: 7},
				PressFeedback:       true,
			},
			{
				ID:              "kitchen-new",
				Name:            "Kitchen New",
				Location:        "Kitchen",
				DeviceID:        "INX_KB4173_A6G1",
				FirmwareVersion: "2.0.9",
				Enabled:         boolPtr(false), // offline
				Geometry:        cookingGeometry,
				Steps:           cookingSteps(),
				Initial:         "OFF",
				Spring:          &SpringFileConfig{Tension: 40, Friction: 7},
				PressFeedback:   true,
			},
			{
				ID:                  "bedroom",
				Name:                "Bedroom Knob",
				Location:            "Master Bedroom",
				DeviceID:            "KNB-003-2024",
				FirmwareVersion:     "2.1.0",
				RequireConfirmation: true,
				Geometry:            cookingGeometry,
				Steps:               cookingSteps(),
				Initial:             "MEDIUM",
				Spring:              &SpringFileConfig{Tension: 40, Friction: 7},
				PressFeedback:       true,
			},
			{
				ID:       "thermostat",
				Name:     "Temperature",
				Location: "Living Room",
				Geometry: GeometryConfig{CenterX: 150, CenterY: 150, Radius: 100, ArcStartDeg: 30, ArcEndDeg: 330},
				Range:    &RangeConfig{Min: 10, Max: 30, Resolution: 1},
				Initial:  20,
				Spring:   &SpringFileConfig{Tension: 40, Friction: 7},
			},
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - The file must be valid YAML.
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - A knobs list in the file replaces the default sample knobs entirely.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	// Decode knobs separately so a file never merges with the sample knobs.
	var probe struct {
		Knobs yaml.Node `yaml:"knobs"`
	}
	if err := yaml.Unmarshal(b, &probe); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if !probe.Knobs.IsZero() {
		cfg.Knobs = nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: defaults only.
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing document (only whitespace/comments are allowed after the first one).
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies command-line overrides on top of a loaded config.
// Each override is only applied when its pointer is non-nil.
type FlagOverrides struct {
	LogLevel      *string
	HTTPListen    *string
	IPCSocketPath *string
	UpdateHz      *int
	RedisEnabled  *bool
	RedisAddr     *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a “zero value”).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.UpdateHz != nil {
		cfg.UpdateHz = *o.UpdateHz
	}
	if o.RedisEnabled != nil {
		cfg.Redis.Enabled = *o.RedisEnabled
	}
	if o.RedisAddr != nil {
		cfg.Redis.Addr = *o.RedisAddr
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.UpdateHz <= 0 || c.UpdateHz > 1000 {
		return errors.New("update_hz must be between 1 and 1000")
	}
	if c.HTTP.Listen == "" && c.IPC.SocketPath == "" {
		return errors.New("at least one of http.listen and ipc.socket_path must be set")
	}

	if c.Rotary.VelocityWindowMS < 0 {
		return errors.New("rotary.velocity_window_ms must be >= 0")
	}
	if c.Rotary.VelocityMultiplier < 1 {
		return errors.New("rotary.velocity_multiplier must be >= 1")
	}
	if c.Rotary.ReleaseAfterMS <= 0 {
		return errors.New("rotary.release_after_ms must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return errors.New("redis.enabled is true but redis.addr is empty")
		}
		if c.Redis.ChannelPrefix == "" {
			return errors.New("redis.channel_prefix must not be empty")
		}
	}

	if len(c.Knobs) == 0 {
		return errors.New("knobs must not be empty")
	}
	ids := make(map[string]struct{}, len(c.Knobs))
	devices := make(map[string]string)
	for i, k := range c.Knobs {
		if k.ID == "" {
			return fmt.Errorf("knobs[%d].id must not be empty", i)
		}
		if _, dup := ids[k.ID]; dup {
			return fmt.Errorf("knobs[%d].id %q is duplicated", i, k.ID)
		}
		ids[k.ID] = struct{}{}

		kc, err := k.KnobConfig()
		if err != nil {
			return fmt.Errorf("knobs[%d] (%s): %w", i, k.ID, err)
		}
		if _, err := knob.New(kc); err != nil {
			return fmt.Errorf("knobs[%d] (%s): %w", i, k.ID, err)
		}

		if k.Input != nil {
			if k.Input.Device == "" {
				return fmt.Errorf("knobs[%d].input.device must not be empty", i)
			}
			if k.Input.DegreesPerDetent < 0 {
				return fmt.Errorf("knobs[%d].input.degrees_per_detent must be >= 0", i)
			}
			if other, dup := devices[k.Input.Device]; dup {
				return fmt.Errorf("knobs[%d].input.device %s is already bound to knob %q", i, k.Input.Device, other)
			}
			devices[k.Input.Device] = k.ID
		}
	}

	return nil
}

// KnobConfig converts the YAML profile into a controller config.
func (k KnobProfile) KnobConfig() (knob.Config, error) {
	cfg := knob.Config{
		Geometry: knob.Geometry{
			CenterX:     k.Geometry.CenterX,
			CenterY:     k.Geometry.CenterY,
			Radius:      k.Geometry.Radius,
			ArcStartDeg: k.Geometry.ArcStartDeg,
			ArcEndDeg:   k.Geometry.ArcEndDeg,
			Reference:   knob.Reference(strings.ToLower(k.Geometry.Reference)),
		},
		Disabled:            k.Enabled != nil && !*k.Enabled,
		RequireConfirmation: k.RequireConfirmation,
	}

	if k.Range != nil {
		cfg.Range = &knob.Range{Min: k.Range.Min, Max: k.Range.Max, Resolution: k.Range.Resolution}
	}
	if k.Steps != nil {
		cfg.Steps = make([]knob.Step, 0, len(k.Steps))
		for _, s := range k.Steps {
			cfg.Steps = append(cfg.Steps, knob.Step{ID: s.ID, AngleDeg: s.AngleDeg, Label: s.Label, Value: s.Value})
		}
	}

	if k.Initial != nil {
		v, err := valueFromAny(k.Initial)
		if err != nil {
			return knob.Config{}, fmt.Errorf("initial: %w", err)
		}
		cfg.Initial = v
	}

	if k.Spring != nil {
		cfg.Spring = knob.SpringConfig{Tension: k.Spring.Tension, Friction: k.Spring.Friction}
	}
	if k.PressFeedback {
		press := knob.DefaultPress()
		cfg.Press = &press
	}
	return cfg, nil
}

// degreesPerDetent returns the encoder step angle with the default applied.
func (k KnobProfile) degreesPerDetent() float64 {
	if k.Input == nil || k.Input.DegreesPerDetent <= 0 {
		return defaultDegreesPerDetent
	}
	return k.Input.DegreesPerDetent
}

// ToRotaryConfig converts file config into the encoder policy.
func (c *Config) ToRotaryConfig() RotaryConfig {
	return RotaryConfig{
		VelocityWindow:     time.Duration(c.Rotary.VelocityWindowMS) * time.Millisecond,
		VelocityMultiplier: c.Rotary.VelocityMultiplier,
		VelocityThreshold:  c.Rotary.VelocityThreshold,
		ReleaseAfter:       time.Duration(c.Rotary.ReleaseAfterMS) * time.Millisecond,
	}
}

// ExpandPath expands a leading "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}
