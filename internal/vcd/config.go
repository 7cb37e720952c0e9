package vcd

import (
	"time"
)

const (
	DefaultAPIVersion       = "38.0"
	DefaultTaskPollInterval = 5 * time.Second
)

type Config struct {
	URL      string
	Org      string
	Username string
	Password string
	Insecure bool
	// VimServerID is the id of the vCenter registration the VMs are imported from.
	VimServerID string
	APIVersion  string
	// RetryMax bounds transport retries. Zero means every remote failure is final.
	RetryMax         int
	TaskPollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.TaskPollInterval <= 0 {
		c.TaskPollInterval = DefaultTaskPollInterval
	}
	if c.Org == "" {
		c.Org = "System"
	}
	return c
}
