package contract

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/clearcut-bridge/errors"
)

func TestWithDefaults(t *testing.T) {
	c := Contract{
		LoggerType: "com/example/Logger",
		Submit:     Member{Name: "send"},
	}.WithDefaults()

	if c.LoggerType != "com/example/Logger" {
		t.Fatalf("LoggerType overwritten: %s", c.LoggerType)
	}
	if c.Submit.Name != "send" || c.Submit.Signature != Default().Submit.Signature {
		t.Fatalf("Submit = %+v", c.Submit)
	}
	if c.AvailabilityType != Default().AvailabilityType {
		t.Fatalf("AvailabilityType = %q", c.AvailabilityType)
	}
	if (Contract{}).WithDefaults() != Default() {
		t.Fatal("empty contract does not default to Default()")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate  func(c *Contract)
		name    string
		wantErr bool
	}{
		{name: "default", mutate: func(c *Contract) {}},
		{name: "dotted type", mutate: func(c *Contract) { c.LoggerType = "com.example.Logger" }, wantErr: true},
		{name: "empty type", mutate: func(c *Contract) { c.StringType = "" }, wantErr: true},
		{name: "builder equals logger", mutate: func(c *Contract) { c.BuilderType = c.LoggerType }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !stderrors.Is(err, errors.InvalidInput(errors.PhaseConfig, "")) {
				t.Fatalf("error %v is not a config input error", err)
			}
		})
	}
}

func TestMember_String(t *testing.T) {
	if got := Default().Submit.String(); got != "log func()" {
		t.Fatalf("String() = %q", got)
	}
}
