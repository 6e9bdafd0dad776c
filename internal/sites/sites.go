// Package sites maps site names to their seeker.Site implementations.
package sites

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/sites/boss"
	"github.com/jonathan/job-pilot/internal/sites/job51"
)

type entry struct {
	build    func() seeker.Site
	dailyCap int
}

var registry = map[string]entry{
	boss.Name:  {build: func() seeker.Site { return boss.New() }, dailyCap: boss.DefaultDailyCap},
	job51.Name: {build: func() seeker.Site { return job51.New() }, dailyCap: job51.DefaultDailyCap},
}

// aliases accepts the names people actually type.
var aliases = map[string]string{
	"zhipin": boss.Name,
	"51job":  job51.Name,
}

// Canonical resolves name or one of its aliases, case-insensitively.
func Canonical(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[n]; ok {
		n = a
	}
	if _, ok := registry[n]; !ok {
		return "", fmt.Errorf("unknown site %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return n, nil
}

// New returns a fresh Site for name.
func New(name string) (seeker.Site, error) {
	n, err := Canonical(name)
	if err != nil {
		return nil, err
	}
	return registry[n].build(), nil
}

// DefaultDailyCap returns the daily submission cap used when none is configured.
func DefaultDailyCap(name string) int {
	n, err := Canonical(name)
	if err != nil {
		return 0
	}
	return registry[n].dailyCap
}

// Names lists the registered sites in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
