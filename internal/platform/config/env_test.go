package config

import (
	"errors"
	"strings"
	"testing"
)

type envTestConfig struct {
	Port int `env:"TASKESCROW_TEST_PORT" envDefault:"123"`
}

type validatedConfig struct {
	FeeNumerator   uint64 `env:"TASKESCROW_TEST_FEE_NUMERATOR" envDefault:"69"`
	FeeDenominator uint64 `env:"TASKESCROW_TEST_FEE_DENOMINATOR" envDefault:"1000"`
}

func (c *validatedConfig) Validate() error {
	if c.FeeDenominator == 0 {
		return errors.New("fee denominator must be positive")
	}
	return nil
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TASKESCROW_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvRunsValidator(t *testing.T) {
	var cfg validatedConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.FeeNumerator != 69 || cfg.FeeDenominator != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	t.Setenv("TASKESCROW_TEST_FEE_DENOMINATOR", "0")
	err := ParseEnv(&validatedConfig{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validate env:") {
		t.Fatalf("expected validate env prefix, got %v", err)
	}
}
