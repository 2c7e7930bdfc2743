// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config holds the endpoint's bring-up parameters: the sender
// authorization mask, the namespace identifier, the reply-framing mode,
// and per-protocol default connection timeouts. It is narrow by design
// -- this is not the accelerator's runtime configuration, which lives in
// the component databases themselves, only the handful of values the
// endpoint needs before any of those databases exist.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fci.dev/endpoint/internal/errors"
)

// ReplyFramingMode selects standard vs legacy reply payload framing; see
// internal/wire.ReplyMode.
type ReplyFramingMode string

const (
	ReplyFramingStandard ReplyFramingMode = "standard"
	ReplyFramingLegacy   ReplyFramingMode = "legacy"
)

// Config is the endpoint's bring-up configuration.
type Config struct {
	// Namespace identifies this endpoint instance, e.g. in logs and
	// metrics labels.
	Namespace string `yaml:"namespace"`

	// AuthorizedMask is the ownership arbiter's sender authorization
	// bitset. Zero means "all sender classes authorized".
	AuthorizedMask uint32 `yaml:"authorized_mask"`

	// ReplyFraming selects the wire reply payload framing mode.
	ReplyFraming ReplyFramingMode `yaml:"reply_framing"`

	// ClientSlots is the client registry's capacity (0 = default of 5).
	ClientSlots int `yaml:"client_slots"`

	// ConntrackTimeouts maps an IP protocol number to its default
	// conntrack timeout, per family.
	ConntrackTimeoutsV4 map[uint8]time.Duration `yaml:"conntrack_timeouts_v4"`
	ConntrackTimeoutsV6 map[uint8]time.Duration `yaml:"conntrack_timeouts_v6"`

	// QoSBudgets maps a physical interface id to its queue-length
	// budget.
	QoSBudgets map[uint32]uint32 `yaml:"qos_budgets"`

	// UnixSocketPath is the reference Linux transport's bind path.
	UnixSocketPath string `yaml:"unix_socket_path"`
}

// Default returns the endpoint's default bring-up configuration.
func Default() Config {
	return Config{
		Namespace:      "fci0",
		AuthorizedMask: 0,
		ReplyFraming:   ReplyFramingStandard,
		ClientSlots:    5,
		UnixSocketPath: "/run/fci/endpoint.sock",
	}
}

// Load reads and parses a YAML configuration file, applying it on top of
// Default() for any field the file leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, errors.KindUnavailable, "config: reading %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, errors.KindValidation, "config: parsing %q", path)
	}
	return cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c Config) Validate() error {
	if c.ReplyFraming != ReplyFramingStandard && c.ReplyFraming != ReplyFramingLegacy {
		return errors.Errorf(errors.KindValidation, "config: unknown reply framing mode %q", c.ReplyFraming)
	}
	if c.ClientSlots < 0 {
		return errors.New(errors.KindValidation, "config: client_slots cannot be negative")
	}
	if c.Namespace == "" {
		return errors.New(errors.KindValidation, "config: namespace is required")
	}
	return nil
}
