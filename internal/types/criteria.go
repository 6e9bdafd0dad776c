// Package types provides type definitions for structured data used throughout the job-pilot system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SearchCriteria drives search URL construction. Empty facets mean "no filter".
type SearchCriteria struct {
	Keywords   []string `json:"keywords" yaml:"keywords" validate:"min=1,dive,required"`
	Cities     []string `json:"cities,omitempty" yaml:"cities,omitempty" validate:"dive,required"`
	Experience string   `json:"experience,omitempty" yaml:"experience,omitempty"`
	Degree     string   `json:"degree,omitempty" yaml:"degree,omitempty"`
	Salary     string   `json:"salary,omitempty" yaml:"salary,omitempty"`
	JobType    string   `json:"job_type,omitempty" yaml:"job_type,omitempty"`
	Scale      string   `json:"scale,omitempty" yaml:"scale,omitempty"`
	Stage      string   `json:"stage,omitempty" yaml:"stage,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the criteria carry at least one non-blank keyword.
func (c SearchCriteria) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid search criteria: %w", err)
	}
	for _, k := range c.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("invalid search criteria: blank keyword")
		}
	}
	return nil
}

// Facets returns the non-empty optional filters keyed by their query parameter name.
func (c SearchCriteria) Facets() map[string]string {
	facets := map[string]string{}
	add := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			facets[key] = value
		}
	}
	add("experience", c.Experience)
	add("degree", c.Degree)
	add("salary", c.Salary)
	add("jobType", c.JobType)
	add("scale", c.Scale)
	add("stage", c.Stage)
	return facets
}

// Clone returns a deep copy so callers cannot mutate a running seeker's criteria.
func (c SearchCriteria) Clone() SearchCriteria {
	out := c
	out.Keywords = append([]string(nil), c.Keywords...)
	out.Cities = append([]string(nil), c.Cities...)
	return out
}
