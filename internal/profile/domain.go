package profile

import (
	"fmt"
	"strings"
)

// Domain identifies a consumer surface and the matching capability axis.
type Domain string

const (
	DomainDatasets Domain = "datasets"
	DomainFiles    Domain = "files"
	DomainJobs     Domain = "jobs"
)

// Domains lists every domain in display order.
func Domains() []Domain {
	return []Domain{DomainDatasets, DomainFiles, DomainJobs}
}

// ParseDomain accepts a domain name case-insensitively.
func ParseDomain(raw string) (Domain, error) {
	switch Domain(strings.ToLower(strings.TrimSpace(raw))) {
	case DomainDatasets:
		return DomainDatasets, nil
	case DomainFiles, "uss":
		return DomainFiles, nil
	case DomainJobs:
		return DomainJobs, nil
	}
	return "", fmt.Errorf("profile: unknown domain %q (expected datasets|files|jobs)", raw)
}

// SettingsNamespace is the persisted settings namespace for the domain.
func (d Domain) SettingsNamespace() string {
	return "connprof." + string(d)
}
