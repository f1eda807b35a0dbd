// Package config loads the TOML files of the station, throttle and
// accessory runnables. Keys present in a file override built-in defaults;
// absent keys keep them.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/dccrelay/internal/broker"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/station"
)

var ErrInvalid = errors.New("config: invalid")

// StationConfig is the resolved configuration of the relay runnable.
type StationConfig struct {
	ControllerAddr string
	AccessoryAddr  string
	AdminAddr      string
	LogLevel       string
	Station        station.Config
}

func DefaultStationConfig() StationConfig {
	return StationConfig{
		ControllerAddr: ":2560",
		AccessoryAddr:  ":2561",
		Station:        station.DefaultConfig(),
	}
}

type stationFile struct {
	ControllerAddr string `toml:"controller_addr"`
	AccessoryAddr  string `toml:"accessory_addr"`
	AdminAddr      string `toml:"admin_addr"`
	LogLevel       string `toml:"log_level"`
	Name           string `toml:"name"`
	Version        string `toml:"version"`
	CurrentReading int    `toml:"current_reading"`
	MaxParamChars  int    `toml:"max_param_chars"`
	ReplayTimeout  string `toml:"replay_timeout"`
}

// LoadStation overlays the file at path onto DefaultStationConfig.
func LoadStation(path string) (StationConfig, error) {
	cfg := DefaultStationConfig()
	var raw stationFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return StationConfig{}, fmt.Errorf("load station config: %w", err)
	}
	if meta.IsDefined("controller_addr") {
		cfg.ControllerAddr = strings.TrimSpace(raw.ControllerAddr)
	}
	if meta.IsDefined("accessory_addr") {
		cfg.AccessoryAddr = strings.TrimSpace(raw.AccessoryAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("name") {
		cfg.Station.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("version") {
		cfg.Station.Version = strings.TrimSpace(raw.Version)
	}
	if meta.IsDefined("current_reading") {
		cfg.Station.CurrentReading = raw.CurrentReading
	}
	if meta.IsDefined("max_param_chars") {
		cfg.Station.Limits.MaxParamChars = raw.MaxParamChars
	}
	if meta.IsDefined("replay_timeout") {
		d, err := parseDuration("replay_timeout", raw.ReplayTimeout)
		if err != nil {
			return StationConfig{}, fmt.Errorf("load station config: %w", err)
		}
		cfg.Station.ReplayTimeout = d
	}
	if err := cfg.Validate(); err != nil {
		return StationConfig{}, fmt.Errorf("load station config: %w", err)
	}
	return cfg, nil
}

func (c StationConfig) Validate() error {
	if err := validateListenAddr("controller_addr", c.ControllerAddr); err != nil {
		return err
	}
	if err := validateListenAddr("accessory_addr", c.AccessoryAddr); err != nil {
		return err
	}
	if c.ControllerAddr == c.AccessoryAddr {
		return fmt.Errorf("%w: controller_addr and accessory_addr must differ", ErrInvalid)
	}
	if c.AdminAddr != "" {
		if err := validateListenAddr("admin_addr", c.AdminAddr); err != nil {
			return err
		}
	}
	if err := validateToken("name", c.Station.Name); err != nil {
		return err
	}
	if err := validateToken("version", c.Station.Version); err != nil {
		return err
	}
	if c.Station.CurrentReading < 0 {
		return fmt.Errorf("%w: current_reading must not be negative", ErrInvalid)
	}
	if c.Station.Limits.MaxParamChars <= 0 {
		return fmt.Errorf("%w: max_param_chars must be positive", ErrInvalid)
	}
	if c.Station.ReplayTimeout <= 0 {
		return fmt.Errorf("%w: replay_timeout must be positive", ErrInvalid)
	}
	return nil
}

// ClientConfig is the connection part shared by throttle and accessory.
type ClientConfig struct {
	Addr     string
	LogLevel string
	Broker   broker.ClientConfig
}

func DefaultClientConfig(name, addr string) ClientConfig {
	b := broker.DefaultClientConfig()
	b.Name = name
	b.Address = addr
	return ClientConfig{Addr: addr, Broker: b}
}

type clientFile struct {
	Addr           string  `toml:"addr"`
	LogLevel       string  `toml:"log_level"`
	ConnectTimeout string  `toml:"connect_timeout"`
	MaxAttempts    int     `toml:"max_attempts"`
	BackoffInitial string  `toml:"backoff_initial"`
	BackoffMax     string  `toml:"backoff_max"`
	BackoffFactor  float64 `toml:"backoff_multiplier"`
	BackoffJitter  bool    `toml:"backoff_jitter"`
}

func (c *ClientConfig) overlay(meta toml.MetaData, raw clientFile) error {
	if meta.IsDefined("addr") {
		c.Addr = strings.TrimSpace(raw.Addr)
		c.Broker.Address = c.Addr
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return err
		}
		c.Broker.ConnectTimeout = d
	}
	if meta.IsDefined("max_attempts") {
		c.Broker.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("backoff_initial") {
		d, err := parseDuration("backoff_initial", raw.BackoffInitial)
		if err != nil {
			return err
		}
		c.Broker.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_max") {
		d, err := parseDuration("backoff_max", raw.BackoffMax)
		if err != nil {
			return err
		}
		c.Broker.Backoff.MaxDelay = d
	}
	if meta.IsDefined("backoff_multiplier") {
		c.Broker.Backoff.Multiplier = raw.BackoffFactor
	}
	if meta.IsDefined("backoff_jitter") {
		c.Broker.Backoff.Jitter = raw.BackoffJitter
	}
	return nil
}

func (c ClientConfig) Validate() error {
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil || strings.TrimSpace(host) == "" || port == "" {
		return fmt.Errorf("%w: addr must be host:port, got %q", ErrInvalid, c.Addr)
	}
	if c.Broker.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrInvalid)
	}
	if c.Broker.Backoff.Multiplier != 0 && c.Broker.Backoff.Multiplier < 1 {
		return fmt.Errorf("%w: backoff_multiplier must be at least 1", ErrInvalid)
	}
	return nil
}

// LoadThrottle overlays the file at path onto the throttle defaults.
func LoadThrottle(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig("throttle", "localhost:2560")
	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load throttle config: %w", err)
	}
	if err := cfg.overlay(meta, raw); err != nil {
		return ClientConfig{}, fmt.Errorf("load throttle config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, fmt.Errorf("load throttle config: %w", err)
	}
	return cfg, nil
}

// OutputEntry places one switchable output at an accessory address.
type OutputEntry struct {
	Name    string `toml:"name"`
	Address int    `toml:"address"`
	Sub     int    `toml:"sub"`
}

// SensorEntry places one sensor contact on a pin.
type SensorEntry struct {
	Name string `toml:"name"`
	Pin  int    `toml:"pin"`
}

type AccessoryConfig struct {
	Client  ClientConfig
	Outputs []OutputEntry
	Sensors []SensorEntry
}

func DefaultAccessoryConfig() AccessoryConfig {
	return AccessoryConfig{Client: DefaultClientConfig("accessory", "localhost:2561")}
}

type accessoryFile struct {
	clientFile
	Outputs []OutputEntry `toml:"outputs"`
	Sensors []SensorEntry `toml:"sensors"`
}

// LoadAccessory overlays the file at path onto the accessory defaults.
func LoadAccessory(path string) (AccessoryConfig, error) {
	cfg := DefaultAccessoryConfig()
	var raw accessoryFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return AccessoryConfig{}, fmt.Errorf("load accessory config: %w", err)
	}
	if err := cfg.Client.overlay(meta, raw.clientFile); err != nil {
		return AccessoryConfig{}, fmt.Errorf("load accessory config: %w", err)
	}
	cfg.Outputs = raw.Outputs
	cfg.Sensors = raw.Sensors
	if err := cfg.Validate(); err != nil {
		return AccessoryConfig{}, fmt.Errorf("load accessory config: %w", err)
	}
	return cfg, nil
}

func (c AccessoryConfig) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return err
	}
	for i, o := range c.Outputs {
		if strings.TrimSpace(o.Name) == "" {
			return fmt.Errorf("%w: outputs[%d] missing name", ErrInvalid, i)
		}
		if o.Address < 0 || o.Address > packet.MaxAccessoryAddress {
			return fmt.Errorf("%w: outputs[%d] address %d out of range", ErrInvalid, i, o.Address)
		}
		if o.Sub < 0 || o.Sub > packet.MaxAccessorySubAddress {
			return fmt.Errorf("%w: outputs[%d] sub %d out of range", ErrInvalid, i, o.Sub)
		}
	}
	seen := make(map[int]string, len(c.Sensors))
	for i, s := range c.Sensors {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%w: sensors[%d] missing name", ErrInvalid, i)
		}
		if s.Pin < 0 || s.Pin > packet.MaxPin {
			return fmt.Errorf("%w: sensors[%d] pin %d out of range", ErrInvalid, i, s.Pin)
		}
		if prev, ok := seen[s.Pin]; ok {
			return fmt.Errorf("%w: sensors[%d] pin %d already used by %s", ErrInvalid, i, s.Pin, prev)
		}
		seen[s.Pin] = s.Name
	}
	return nil
}

func validateListenAddr(key, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %s must be [host]:port, got %q", ErrInvalid, key, addr)
	}
	return nil
}

// validateToken rejects values that cannot travel as one wire parameter.
func validateToken(key, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, key)
	}
	if strings.ContainsAny(v, "<> \t\r\n") {
		return fmt.Errorf("%w: %s must be a single token, got %q", ErrInvalid, key, v)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s must be a duration like 250ms, got %q", ErrInvalid, key, raw)
	}
	return d, nil
}
