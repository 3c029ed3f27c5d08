package model

import (
	"io"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("config.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version  int      `json:"version" yaml:"version"` // fixed 0 for now
	Bus      Bus      `json:"bus" yaml:"bus"`
	Launcher Launcher `json:"launcher" yaml:"launcher"`
	Metrics  Metrics  `json:"metrics" yaml:"metrics"`
	Log      Log      `json:"log" yaml:"log"`
}

// Bus selects the message bus and the well-known name.
type Bus struct {
	Kind    string `json:"kind" yaml:"kind"` // bus.KindSystem | bus.KindSession
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"` // overrides kind
}

// Launcher is the external facility running each job.
type Launcher struct {
	Path       string   `json:"path" yaml:"path"` // empty => run argv directly
	Args       []string `json:"args" yaml:"args"`
	UnitPrefix string   `json:"unit_prefix" yaml:"unit_prefix"`
	Env        []string `json:"env" yaml:"env"` // KEY=value
}

type Metrics struct {
	Address string `json:"address" yaml:"address"` // empty => disabled
}

type Log struct {
	Verbose int `json:"verbose" yaml:"verbose"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig returns the schema defaults.
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0\n"))
	if err != nil {
		panic(err)
	}
	return *cfg
}
