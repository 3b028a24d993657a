package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mtlprog/fundcore/internal/protocol"
)

// Stage is one deployment of the fund: its protocol parameters and the
// cells it starts from.
type Stage struct {
	Name    string          `yaml:"name"`
	Params  protocol.Params `yaml:"params"`
	Genesis Genesis         `yaml:"genesis"`
}

// Genesis describes the initial protocol cells.
type Genesis struct {
	// Script is the credential hash the protocol cells are locked by.
	Script       string          `yaml:"script"`
	StartTime    time.Time       `yaml:"start_time"`
	Period       time.Duration   `yaml:"period"`
	StartPrice   decimal.Decimal `yaml:"start_price"`
	CellLovelace int64           `yaml:"cell_lovelace"`
}

// LoadStage reads a YAML stage file, expanding ${VAR} references, then
// applies defaults and validates the result.
func LoadStage(path string) (*Stage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage file: %w", err)
	}
	return ParseStage(data)
}

// ParseStage is LoadStage for an in-memory document.
func ParseStage(data []byte) (*Stage, error) {
	expanded := os.ExpandEnv(string(data))

	var s Stage
	if err := yaml.Unmarshal([]byte(expanded), &s); err != nil {
		return nil, fmt.Errorf("parse stage yaml: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate stage: %w", err)
	}
	return &s, nil
}

func (s *Stage) applyDefaults() {
	if s.Name == "" {
		s.Name = "default"
	}
	if s.Params.ManagementFee.Period == 0 {
		s.Params.ManagementFee.Period = 365 * 24 * time.Hour
	}
	if s.Genesis.StartPrice.IsZero() {
		s.Genesis.StartPrice = decimal.NewFromInt(1)
	}
	if s.Genesis.CellLovelace == 0 {
		s.Genesis.CellLovelace = 2_000_000
	}
}

// Validate checks the stage is complete.
func (s *Stage) Validate() error {
	var errs []error
	if err := s.Params.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("params: %w", err))
	}
	g := s.Genesis
	if g.Script == "" {
		errs = append(errs, errors.New("genesis.script is required"))
	}
	if g.StartTime.IsZero() {
		errs = append(errs, errors.New("genesis.start_time is required"))
	}
	if g.Period <= 0 {
		errs = append(errs, errors.New("genesis.period must be positive"))
	}
	if !g.StartPrice.IsPositive() {
		errs = append(errs, fmt.Errorf("genesis.start_price must be positive, got %s", g.StartPrice))
	}
	if g.CellLovelace < 0 {
		errs = append(errs, errors.New("genesis.cell_lovelace must not be negative"))
	}
	return errors.Join(errs...)
}
