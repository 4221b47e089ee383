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

// Package sync implements the reconciliation engine that keeps database
// roles on Cloud SQL instances in step with IAM group membership: every
// current group member holds the group's role, no ex-member retains it.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/gravitational/groupsync/lib/gcp"
	"github.com/gravitational/groupsync/lib/roles"
)

// Config is the sync engine configuration.
type Config struct {
	// Directory resolves IAM group membership.
	Directory gcp.DirectoryClient
	// SQLAdmin inspects instances and provisions database users.
	SQLAdmin gcp.SQLAdminClient
	// TokenSource supplies OAuth2 credentials for database connections.
	TokenSource oauth2.TokenSource
	// AdminEmail is the service account email database connections
	// authenticate as.
	AdminEmail string
	// NewDialer builds the Cloud SQL dialer for one sync invocation.
	NewDialer func(ctx context.Context, config gcp.DialerConfig) (gcp.Dialer, error)
	// NewRoleService connects a role service to one instance.
	NewRoleService func(ctx context.Context, config roles.Config) (roles.Service, error)
	// Clock measures the reconciliation pass duration.
	Clock clockwork.Clock
	// Log is the engine logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and sets defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Directory == nil {
		return trace.BadParameter("missing parameter Directory")
	}
	if c.SQLAdmin == nil {
		return trace.BadParameter("missing parameter SQLAdmin")
	}
	if c.TokenSource == nil {
		return trace.BadParameter("missing parameter TokenSource")
	}
	if c.AdminEmail == "" {
		return trace.BadParameter("missing parameter AdminEmail")
	}
	if c.NewDialer == nil {
		c.NewDialer = gcp.NewDialer
	}
	if c.NewRoleService == nil {
		c.NewRoleService = roles.New
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return nil
}

// Request describes one reconciliation pass.
type Request struct {
	// Groups are the IAM group emails to sync.
	Groups []string
	// Instances are the target instance connection names in the
	// project:region:instance form.
	Instances []string
	// RoleMappings overrides the database role name derived from a group
	// email, keyed by group.
	RoleMappings map[string]string
	// PrivateIP connects to instances over their private IP addresses.
	PrivateIP bool
}

// CheckAndSetDefaults validates the request.
func (r *Request) CheckAndSetDefaults() error {
	if len(r.Groups) == 0 {
		return trace.BadParameter("missing parameter Groups")
	}
	if len(r.Instances) == 0 {
		return trace.BadParameter("missing parameter Instances")
	}
	return nil
}

// PairResult reports the outcome of reconciling one (group, instance) pair.
type PairResult struct {
	// Group is the IAM group email.
	Group string `json:"group"`
	// Instance is the instance connection name.
	Instance string `json:"instance"`
	// Role is the database role mirroring the group.
	Role string `json:"role"`
	// UsersCreated counts database users created for new group members.
	UsersCreated int `json:"users_created"`
	// UsersFailed counts group members whose database user could not be
	// created. These failures are reported, not fatal.
	UsersFailed int `json:"users_failed"`
	// Granted counts users the role was granted to.
	Granted int `json:"granted"`
	// Revoked counts users the role was revoked from.
	Revoked int `json:"revoked"`
}

// Summary is the aggregate outcome of a successful reconciliation pass.
type Summary struct {
	// Pairs holds per-pair counts. Pairs skipped because their group
	// resolved to no members are not listed.
	Pairs []PairResult `json:"pairs"`
	// Elapsed is the wall time of the pass.
	Elapsed time.Duration `json:"elapsed"`
}

// Engine runs reconciliation passes.
type Engine struct {
	cfg Config
}

// NewEngine returns a sync engine.
func NewEngine(config Config) (*Engine, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{cfg: config}, nil
}
