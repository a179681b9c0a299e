// Package devices maps configured device type strings to their builders.
package devices

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"homectl-go/device"
	"homectl-go/errcode"
	"homectl-go/rs485"
)

// MasterPool resolves named bus masters for builders of bus-attached devices.
type MasterPool interface {
	Master(name string) (*rs485.Master, bool)
}

// BuildInput is handed to a device builder.
type BuildInput struct {
	ID      device.ID
	Name    string
	Params  *yaml.Node // raw params block from the deployment config; may be nil
	Masters MasterPool // nil when no bus masters are configured
}

// DecodeParams unmarshals the raw params into dst. A missing params block
// leaves dst at its defaults.
func (in BuildInput) DecodeParams(dst any) error {
	if in.Params == nil {
		return nil
	}
	return in.Params.Decode(dst)
}

// Builder constructs a device from configuration.
type Builder func(in BuildInput) (device.Device, error)

var (
	muBuilders sync.RWMutex
	builders   = map[string]Builder{}
)

// Register installs a builder for a given device type string.
// It panics on duplicate registration to catch mistakes at start-up.
func Register(deviceType string, b Builder) {
	muBuilders.Lock()
	defer muBuilders.Unlock()
	if deviceType == "" {
		panic("devices: empty device type for builder")
	}
	if b == nil {
		panic("devices: nil builder for " + deviceType)
	}
	if _, dup := builders[deviceType]; dup {
		panic("devices: duplicate builder for " + deviceType)
	}
	builders[deviceType] = b
}

// Build constructs a device of the given configured type.
func Build(deviceType string, in BuildInput) (device.Device, error) {
	muBuilders.RLock()
	b := builders[deviceType]
	muBuilders.RUnlock()
	if b == nil {
		return nil, fmt.Errorf("%w: unknown device type %q", errcode.InvalidConfig, deviceType)
	}
	return b(in)
}

// Types returns the registered device type strings (diagnostics).
func Types() []string {
	muBuilders.RLock()
	defer muBuilders.RUnlock()
	out := make([]string, 0, len(builders))
	for t := range builders {
		out = append(out, t)
	}
	return out
}
