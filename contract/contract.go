// Package contract names the remote types, methods and fields the bridge
// talks to. Runtimes that host the logging service implement exactly these
// names, and the bridge resolves nothing outside of them.
package contract

import (
	"fmt"
	"strings"

	"github.com/wippyai/clearcut-bridge/errors"
)

// LogSource is the log source every logger is constructed with.
const LogSource = "TUNING_FORK"

// Member is a named method or field with its signature.
type Member struct {
	Name      string `yaml:"name"`
	Signature string `yaml:"signature"`
}

func (m Member) String() string {
	return m.Name + " " + m.Signature
}

// Contract lists every remote name the bridge resolves.
type Contract struct {
	AvailabilityType string `yaml:"availability_type"`
	GetInstance      Member `yaml:"get_instance"`
	IsAvailable      Member `yaml:"is_available"`
	VersionField     Member `yaml:"version_field"`

	// ContextGetter is called on the entry point to obtain the application
	// context.
	ContextGetter Member `yaml:"context_getter"`

	LoggerType  string `yaml:"logger_type"`
	StringType  string `yaml:"string_type"`
	BuilderType string `yaml:"builder_type"`

	NewEvent         Member `yaml:"new_event"`
	Submit           Member `yaml:"submit"`
	AnonymousFactory Member `yaml:"anonymous_factory"`
	Constructor      Member `yaml:"constructor"`
}

// Default returns the contract of the platform logging service.
func Default() Contract {
	return Contract{
		AvailabilityType: "com/google/android/gms/common/GoogleApiAvailability",
		GetInstance:      Member{Name: "getInstance", Signature: "func() -> availability"},
		IsAvailable:      Member{Name: "isGooglePlayServicesAvailable", Signature: "func(context) -> int"},
		VersionField:     Member{Name: "GOOGLE_PLAY_SERVICES_VERSION_CODE", Signature: "int"},

		ContextGetter: Member{Name: "getApplicationContext", Signature: "func() -> context"},

		LoggerType:  "com/google/android/gms/clearcut/ClearcutLogger",
		StringType:  "java/lang/String",
		BuilderType: "com/google/android/gms/clearcut/ClearcutLogger$LogEventBuilder",

		NewEvent:         Member{Name: "newEvent", Signature: "func(bytes) -> builder"},
		Submit:           Member{Name: "log", Signature: "func()"},
		AnonymousFactory: Member{Name: "anonymousLogger", Signature: "func(context, string) -> logger"},
		Constructor:      Member{Name: "<init>", Signature: "func(context, string, string)"},
	}
}

// WithDefaults fills every empty name or signature from Default.
func (c Contract) WithDefaults() Contract {
	d := Default()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	member := func(m *Member, def Member) {
		fill(&m.Name, def.Name)
		fill(&m.Signature, def.Signature)
	}

	fill(&c.AvailabilityType, d.AvailabilityType)
	member(&c.GetInstance, d.GetInstance)
	member(&c.IsAvailable, d.IsAvailable)
	member(&c.VersionField, d.VersionField)
	member(&c.ContextGetter, d.ContextGetter)
	fill(&c.LoggerType, d.LoggerType)
	fill(&c.StringType, d.StringType)
	fill(&c.BuilderType, d.BuilderType)
	member(&c.NewEvent, d.NewEvent)
	member(&c.Submit, d.Submit)
	member(&c.AnonymousFactory, d.AnonymousFactory)
	member(&c.Constructor, d.Constructor)
	return c
}

// Validate rejects names the runtimes cannot resolve.
func (c Contract) Validate() error {
	types := map[string]string{
		"availability_type": c.AvailabilityType,
		"logger_type":       c.LoggerType,
		"string_type":       c.StringType,
		"builder_type":      c.BuilderType,
	}
	for key, v := range types {
		if v == "" || strings.ContainsAny(v, " .") {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("%s %q is not a slash separated type name", key, v))
		}
	}
	if c.BuilderType == c.LoggerType {
		return errors.InvalidInput(errors.PhaseConfig, "builder_type must differ from logger_type")
	}
	return nil
}
