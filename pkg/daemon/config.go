// Copyright 2024-2026 Aiku AI

package daemon

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/roomstatus/pkg/matrixclient"
	"github.com/aiku/roomstatus/pkg/mqttbridge"
	"github.com/aiku/roomstatus/pkg/roomstatus"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the whole daemon configuration.
type Config struct {
	Matrix     matrixclient.Config      `yaml:"matrix"`
	MQTT       mqttbridge.Config        `yaml:"mqtt"`
	RoomStatus map[string]yaml.Node     `yaml:"room_status"`
	Control    roomstatus.ControlConfig `yaml:"control"`
	Hardware   HardwareConfig           `yaml:"hardware"`
	Logging    zeroconfig.Config        `yaml:"logging"`

	statusTable *roomstatus.StatusTable `yaml:"-"`
}

// HardwareConfig controls GPIO access. With it disabled, LEDs and buttons
// are skipped and the sign runs headless.
type HardwareConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess resolves the status table and checks cross-section
// requirements. Every error wraps roomstatus.ErrConfig.
func (c *Config) PostProcess() error {
	table, err := roomstatus.ResolveStatusTable(c.RoomStatus)
	if err != nil {
		return err
	}
	c.statusTable = table
	if c.Control.Enabled() && !c.Matrix.Enabled() {
		return fmt.Errorf("%w: control needs matrix to be configured", roomstatus.ErrConfig)
	}
	if c.Control.Enabled() {
		if _, err = roomstatus.ParseCommands(c.Control.Commands); err != nil {
			return err
		}
	}
	if c.Matrix.Enabled() {
		if c.Matrix.UserID == "" {
			return fmt.Errorf("%w: matrix.user_id is required", roomstatus.ErrConfig)
		}
		if c.Matrix.AccessToken == "" && c.Matrix.Password == "" {
			return fmt.Errorf("%w: matrix.access_token or matrix.password is required", roomstatus.ErrConfig)
		}
	}
	if c.MQTT.Enabled() && c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", roomstatus.ErrConfig)
	}
	return nil
}

// StatusTable returns the table resolved by PostProcess.
func (c *Config) StatusTable() *roomstatus.StatusTable {
	return c.statusTable
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str|up.Null, "matrix", "homeserver")
	helper.Copy(up.Str, "matrix", "user_id")
	helper.Copy(up.Str|up.Null, "matrix", "access_token")
	helper.Copy(up.Str|up.Null, "matrix", "password")
	helper.Copy(up.Str, "matrix", "displayname")
	helper.Copy(up.Str|up.Null, "matrix", "avatar_url")
	helper.Copy(up.List, "matrix", "rooms")
	helper.Copy(up.Str, "matrix", "ntp_server")
	helper.Copy(up.Int, "matrix", "sync_limit")

	helper.Copy(up.Str|up.Null, "mqtt", "broker")
	helper.Copy(up.Str|up.Null, "mqtt", "client_id")
	helper.Copy(up.Str|up.Null, "mqtt", "username")
	helper.Copy(up.Str|up.Null, "mqtt", "password")
	helper.Copy(up.Str, "mqtt", "status_topic")
	helper.Copy(up.Int, "mqtt", "qos")
	helper.Copy(up.Str, "mqtt", "timeout")

	helper.Copy(up.Map, "room_status")

	helper.Copy(up.Str|up.Null, "control", "room")
	helper.Copy(up.Str|up.Null, "control", "dm_user")
	helper.Copy(up.Str, "control", "poll_interval")
	helper.Copy(up.Map, "control", "commands")

	helper.Copy(up.Bool, "hardware", "enabled")
	helper.Copy(up.Str, "hardware", "poll_interval")

	helper.Copy(up.Map, "logging")
}

// Upgrader merges a user config over the embedded example.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Base:           ExampleConfig,
}

// Load reads the config at path, fills in keys it lacks from the example
// and parses it. With save set, the merged document is written back when it
// changed.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and post-processes an already merged document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", roomstatus.ErrConfig, err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteExample writes the example config to path, refusing to overwrite.
func WriteExample(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(ExampleConfig); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
