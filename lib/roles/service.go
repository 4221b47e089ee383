/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package roles manages database roles that mirror IAM groups: role
// creation, inspection of current grants, and applying grant/revoke
// operations, with MySQL and Postgres implementations.
package roles

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"golang.org/x/oauth2"

	"github.com/gravitational/groupsync/lib/dialect"
	"github.com/gravitational/groupsync/lib/gcp"
)

// Service manages the role on one database instance that mirrors one IAM
// group.
type Service interface {
	// CreateRole ensures the role exists. The operation is idempotent, a
	// role created concurrently by another caller is not an error.
	CreateRole(ctx context.Context, role string) error
	// FetchRoleGrants returns the usernames currently granted the role, in
	// the instance-local name space.
	FetchRoleGrants(ctx context.Context, role string) ([]string, error)
	// GrantRole grants the role to the given users. An empty user list is a
	// no-op with no database I/O.
	GrantRole(ctx context.Context, role string, users []string) error
	// RevokeRole revokes the role from the given users. An empty user list
	// is a no-op with no database I/O.
	RevokeRole(ctx context.Context, role string, users []string) error
	// Close releases the underlying database connection.
	Close(ctx context.Context) error
}

// Config is the configuration for connecting a role Service to an instance.
type Config struct {
	// Instance identifies the target Cloud SQL instance.
	Instance gcp.InstanceConnectionName
	// Version is the instance's parsed database version.
	Version dialect.DatabaseVersion
	// Dialer opens the network connection to the instance.
	Dialer gcp.Dialer
	// TokenSource supplies the OAuth2 token presented as the password for
	// MySQL IAM database authentication.
	TokenSource oauth2.TokenSource
	// AdminEmail is the IAM service account email the service connects as.
	// It is normalized to the instance-local username convention before use.
	AdminEmail string
	// Log emits query-level debug logging.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and sets defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Instance.Instance == "" {
		return trace.BadParameter("missing parameter Instance")
	}
	if c.Dialer == nil {
		return trace.BadParameter("missing parameter Dialer")
	}
	if c.TokenSource == nil {
		return trace.BadParameter("missing parameter TokenSource")
	}
	if c.AdminEmail == "" {
		return trace.BadParameter("missing parameter AdminEmail")
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return nil
}

// New connects to the instance as the admin service account and returns the
// role Service for its database family.
func New(ctx context.Context, config Config) (Service, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	switch config.Version.Family() {
	case dialect.FamilyMySQL:
		return newMySQLService(ctx, config)
	case dialect.FamilyPostgres:
		return newPostgresService(ctx, config)
	}
	return nil, trace.NotImplemented("database version %q is not supported", config.Version)
}
