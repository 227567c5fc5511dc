package bridge

import (
	"fmt"

	"github.com/wippyai/clearcut-bridge/contract"
	"github.com/wippyai/clearcut-bridge/errors"
)

// Construction selects how Init obtains the remote logger.
type Construction string

const (
	// ConstructionConstructor builds the logger with its three argument
	// constructor, attributing events to the application.
	ConstructionConstructor Construction = "constructor"

	// ConstructionAnonymous uses the static anonymous factory.
	ConstructionAnonymous Construction = "anonymous"
)

// DetachPolicy decides when Process detaches the calling thread.
type DetachPolicy string

const (
	// DetachOwned detaches only threads that Process itself attached.
	DetachOwned DetachPolicy = "owned"

	// DetachAlways detaches after every Process call, including threads
	// that were attached before the call.
	DetachAlways DetachPolicy = "always"
)

// Config holds bridge configuration.
type Config struct {
	LogSource    string            `yaml:"log_source"`
	Construction Construction      `yaml:"construction"`
	DetachPolicy DetachPolicy      `yaml:"detach_policy"`
	Contract     contract.Contract `yaml:"contract"`
}

// DefaultConfig returns the configuration used when fields are left empty.
func DefaultConfig() Config {
	return Config{
		LogSource:    contract.LogSource,
		Construction: ConstructionConstructor,
		DetachPolicy: DetachOwned,
		Contract:     contract.Default(),
	}
}

// WithDefaults fills empty fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.LogSource == "" {
		c.LogSource = d.LogSource
	}
	if c.Construction == "" {
		c.Construction = d.Construction
	}
	if c.DetachPolicy == "" {
		c.DetachPolicy = d.DetachPolicy
	}
	c.Contract = c.Contract.WithDefaults()
	return c
}

// Validate checks enumerated fields and the contract.
func (c Config) Validate() error {
	switch c.Construction {
	case ConstructionConstructor, ConstructionAnonymous:
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown construction %q", c.Construction))
	}
	switch c.DetachPolicy {
	case DetachOwned, DetachAlways:
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown detach policy %q", c.DetachPolicy))
	}
	if c.LogSource == "" {
		return errors.InvalidInput(errors.PhaseConfig, "log source is empty")
	}
	return c.Contract.Validate()
}
