// Package contact manages short-range contact interactions between
// simulation points: periodic rebalancing of point ownership, migration of
// the bonded-neighbor topology, proximity search excluding bonded pairs,
// and reconstruction of the distributed maps and neighbor tables every
// consumer reads between rebalances.
package contact

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelSpec is a configured contact force-law model. Exactly one model is
// honored per run; its horizon is supplied per block, never as a model
// parameter.
type ModelSpec struct {
	Name   string
	Params map[string]float64
}

// BlockGroup is one named entry of the blocks section: a list of block
// names sharing the group's parameters. The block name "Default" (or
// "default") marks the group applied to every discretization block not
// named explicitly.
type BlockGroup struct {
	Name       string
	BlockNames []string
}

// Config holds the recognized contact configuration.
type Config struct {
	SearchRadius    float64
	SearchFrequency int
	Model           ModelSpec
	Groups          []BlockGroup
	Horizons        map[string]float64
}

type rawConfig struct {
	Contact  rawContact               `yaml:"contact"`
	Blocks   map[string]rawBlockGroup `yaml:"blocks"`
	Horizons map[string]float64       `yaml:"horizons"`
}

type rawContact struct {
	SearchRadius    *float64   `yaml:"search_radius"`
	SearchFrequency *int       `yaml:"search_frequency"`
	Models          []rawModel `yaml:"models"`
}

type rawModel struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

type rawBlockGroup struct {
	BlockNames string `yaml:"block_names"`
}

// ParseConfig decodes and validates a YAML contact configuration. All
// validation failures are configuration errors naming the offending key;
// no partial simulation state exists when they are reported.
func ParseConfig(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var raw rawConfig
	if err := dec.Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("contact: parsing configuration: %w", err)
	}

	if raw.Contact.SearchRadius == nil {
		return nil, fmt.Errorf(`contact: parameter "search_radius" not specified`)
	}
	if *raw.Contact.SearchRadius <= 0 {
		return nil, fmt.Errorf(`contact: parameter "search_radius" is %v, must be positive`,
			*raw.Contact.SearchRadius)
	}
	if raw.Contact.SearchFrequency == nil {
		return nil, fmt.Errorf(`contact: parameter "search_frequency" not specified`)
	}
	if *raw.Contact.SearchFrequency < 1 {
		return nil, fmt.Errorf(`contact: parameter "search_frequency" is %d, must be positive`,
			*raw.Contact.SearchFrequency)
	}

	if len(raw.Contact.Models) == 0 {
		return nil, fmt.Errorf("contact: no contact model specified")
	}
	if len(raw.Contact.Models) > 1 {
		return nil, fmt.Errorf("contact: %d contact models specified, exactly one is supported",
			len(raw.Contact.Models))
	}
	model := raw.Contact.Models[0]
	if model.Name == "" {
		return nil, fmt.Errorf("contact: contact model has no name")
	}
	params := make(map[string]float64, len(model.Params))
	for k, v := range model.Params {
		if strings.EqualFold(k, "horizon") {
			return nil, fmt.Errorf(`contact: "horizon" is an invalid contact model parameter; horizons are per-block`)
		}
		params[k] = v
	}
	if _, ok := params["friction_coefficient"]; !ok {
		params["friction_coefficient"] = 0
	}

	cfg := &Config{
		SearchRadius:    *raw.Contact.SearchRadius,
		SearchFrequency: *raw.Contact.SearchFrequency,
		Model:           ModelSpec{Name: model.Name, Params: params},
		Horizons:        raw.Horizons,
	}
	if cfg.Horizons == nil {
		cfg.Horizons = map[string]float64{}
	}

	groupNames := make([]string, 0, len(raw.Blocks))
	for name := range raw.Blocks {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)
	for _, name := range groupNames {
		names := strings.Fields(raw.Blocks[name].BlockNames)
		if len(names) == 0 {
			return nil, fmt.Errorf("contact: blocks entry %q lists no block names", name)
		}
		cfg.Groups = append(cfg.Groups, BlockGroup{Name: name, BlockNames: names})
	}
	return cfg, nil
}

// ParseBlockID extracts the numeric ID from a block name of the form
// "<prefix>_<id>".
func ParseBlockID(name string) (int, error) {
	loc := strings.LastIndexByte(name, '_')
	if loc < 0 {
		return 0, fmt.Errorf("contact: invalid block name %q", name)
	}
	id, err := strconv.Atoi(name[loc+1:])
	if err != nil {
		return 0, fmt.Errorf("contact: invalid block name %q: %w", name, err)
	}
	return id, nil
}

func isDefaultName(name string) bool {
	return name == "Default" || name == "default"
}
