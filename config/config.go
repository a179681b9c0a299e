// Package config loads the controller's deployment description: the listen
// address, the bus masters, the device table and the requested signal
// connections.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"homectl-go/device"
	"homectl-go/errcode"
	"homectl-go/exchange"
)

const defaultListen = ":8080"

type Config struct {
	Listen      string             `yaml:"listen"`
	Masters     []MasterConfig     `yaml:"masters"`
	Devices     []DeviceConfig     `yaml:"devices"`
	Connections []ConnectionConfig `yaml:"connections"`
}

// MasterConfig names one serial adapter running the bus protocol.
type MasterConfig struct {
	Name string `yaml:"name"`
	Port string `yaml:"port"`
}

type DeviceConfig struct {
	ID     uint32     `yaml:"id"`
	Type   string     `yaml:"type"`
	Name   string     `yaml:"name"`
	Params *yaml.Node `yaml:"params"`
}

type EndpointConfig struct {
	Device uint32 `yaml:"device"`
	Signal uint16 `yaml:"signal"`
}

type ConnectionConfig struct {
	Source EndpointConfig `yaml:"source"`
	Target EndpointConfig `yaml:"target"`
}

// Load reads and validates a deployment file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a deployment document. Unknown fields are
// rejected to catch typos early.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errcode.InvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	masterNames := map[string]struct{}{}
	for _, m := range c.Masters {
		if m.Name == "" || m.Port == "" {
			return fmt.Errorf("%w: master entries need name and port", errcode.InvalidConfig)
		}
		if _, dup := masterNames[m.Name]; dup {
			return fmt.Errorf("%w: duplicate master %q", errcode.InvalidConfig, m.Name)
		}
		masterNames[m.Name] = struct{}{}
	}

	deviceIDs := map[uint32]struct{}{}
	for _, d := range c.Devices {
		if d.Type == "" {
			return fmt.Errorf("%w: device %d has no type", errcode.InvalidConfig, d.ID)
		}
		if _, dup := deviceIDs[d.ID]; dup {
			return fmt.Errorf("%w: duplicate device id %d", errcode.InvalidConfig, d.ID)
		}
		deviceIDs[d.ID] = struct{}{}
	}

	for _, conn := range c.Connections {
		if _, ok := deviceIDs[conn.Source.Device]; !ok {
			return fmt.Errorf("%w: connection source references unknown device %d",
				errcode.InvalidConfig, conn.Source.Device)
		}
		if _, ok := deviceIDs[conn.Target.Device]; !ok {
			return fmt.Errorf("%w: connection target references unknown device %d",
				errcode.InvalidConfig, conn.Target.Device)
		}
	}
	return nil
}

// ConnectionsRequested lowers the config form to the exchanger's input.
func (c *Config) ConnectionsRequested() []exchange.ConnectionRequested {
	out := make([]exchange.ConnectionRequested, 0, len(c.Connections))
	for _, conn := range c.Connections {
		out = append(out, exchange.ConnectionRequested{
			Source: exchange.DeviceSignal{
				Device: device.ID(conn.Source.Device),
				Signal: device.SignalID(conn.Source.Signal),
			},
			Target: exchange.DeviceSignal{
				Device: device.ID(conn.Target.Device),
				Signal: device.SignalID(conn.Target.Signal),
			},
		})
	}
	return out
}
