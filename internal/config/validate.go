package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate rejects settings the binaries cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			errs = append(errs, errors.New("database.path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (want sqlite or postgres)", c.Database.Driver))
	}
	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("database.max_open_conns must be positive"))
	}
	if c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database.max_idle_conns must not be negative"))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitRequests <= 0 {
			errs = append(errs, errors.New("security.rate_limit_requests must be positive"))
		}
		if c.Security.RateLimitWindow <= 0 {
			errs = append(errs, errors.New("security.rate_limit_window must be positive"))
		}
	}

	if c.Temporal.Enabled {
		if c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "" {
			errs = append(errs, errors.New("temporal.host_port and temporal.task_queue are required when temporal is enabled"))
		}
		if c.Temporal.RollupInterval <= 0 {
			errs = append(errs, errors.New("temporal.rollup_interval must be positive"))
		}
	}

	return errors.Join(errs...)
}
