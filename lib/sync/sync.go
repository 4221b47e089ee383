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

package sync

import (
	"context"
	"sort"

	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/groupsync/lib/dialect"
	"github.com/gravitational/groupsync/lib/gcp"
	"github.com/gravitational/groupsync/lib/roles"
)

// instanceState is the per-instance data gathered before any pair work
// starts: the parsed database version and the current database user list.
// It is written once during the fan-out phase and only read afterwards.
type instanceState struct {
	name    gcp.InstanceConnectionName
	version dialect.DatabaseVersion
	users   []string
}

// Sync runs one full, stateless reconciliation pass for every
// (group, instance) pair of the request.
//
// Failure policy: an oversized role name or unsupported database version
// fails the whole request before any user or membership lookup runs. Any
// pair-level failure aborts the sync, except per-account user provisioning
// failures which are absorbed and counted. A pass never reports partial
// success as overall success.
func (e *Engine) Sync(ctx context.Context, req Request) (*Summary, error) {
	if err := req.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	start := e.cfg.Clock.Now()

	instances := make([]*instanceState, len(req.Instances))
	for i, name := range req.Instances {
		parsed, err := gcp.ParseInstanceConnectionName(name)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		instances[i] = &instanceState{name: parsed}
	}

	// Determine every instance's dialect first: the pre-flight role name
	// check depends on it and must reject the request before any membership
	// or database work starts.
	group, gctx := errgroup.WithContext(ctx)
	for _, instance := range instances {
		group.Go(func() error {
			version, err := e.cfg.SQLAdmin.GetDatabaseVersion(gctx, instance.name)
			if err != nil {
				return trace.Wrap(err)
			}
			instance.version, err = dialect.ParseDatabaseVersion(version)
			return trace.Wrap(err)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}

	pairRoles, err := e.preflightRoles(req, instances)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// Group membership resolution and instance user listing are independent,
	// run them all in parallel. The results are write-once before any pair
	// task reads them.
	members := make([]map[string]struct{}, len(req.Groups))
	group, gctx = errgroup.WithContext(ctx)
	for i, groupEmail := range req.Groups {
		group.Go(func() error {
			resolved, err := resolveGroupMembers(gctx, e.cfg.Directory, e.cfg.Log, groupEmail)
			if err != nil {
				return trace.Wrap(err)
			}
			members[i] = resolved
			return nil
		})
	}
	for _, instance := range instances {
		group.Go(func() error {
			users, err := e.cfg.SQLAdmin.ListUsers(gctx, instance.name)
			if err != nil {
				return trace.Wrap(err)
			}
			instance.users = users
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}

	dialer, err := e.cfg.NewDialer(ctx, gcp.DialerConfig{
		TokenSource: e.cfg.TokenSource,
		PrivateIP:   req.PrivateIP,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer dialer.Close()

	// Fan out over the (group, instance) Cartesian product. Groups that
	// resolved to no members are skipped entirely, no database work happens
	// for them.
	type pair struct {
		groupIndex    int
		instanceIndex int
	}
	var pairs []pair
	for i, groupEmail := range req.Groups {
		if len(members[i]) == 0 {
			e.cfg.Log.InfoContext(ctx, "IAM group has no members, skipping.", "group", groupEmail)
			continue
		}
		for j := range instances {
			pairs = append(pairs, pair{groupIndex: i, instanceIndex: j})
		}
	}

	results := make([]PairResult, len(pairs))
	group, gctx = errgroup.WithContext(ctx)
	for i, p := range pairs {
		group.Go(func() error {
			groupEmail := req.Groups[p.groupIndex]
			instance := instances[p.instanceIndex]
			result, err := e.syncPair(gctx, dialer, groupEmail, members[p.groupIndex], instance, pairRoles[p.groupIndex][p.instanceIndex])
			if err != nil {
				return trace.Wrap(err, "failed to sync IAM group %q to instance %q", groupEmail, instance.name)
			}
			results[i] = *result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}

	summary := &Summary{
		Pairs:   results,
		Elapsed: e.cfg.Clock.Now().Sub(start),
	}
	e.cfg.Log.InfoContext(ctx, "Sync pass finished.", "pairs", len(summary.Pairs), "elapsed", summary.Elapsed.String())
	return summary, nil
}

// preflightRoles computes the effective role name for every
// (group, instance) pair and rejects the whole request if any of them
// exceeds the instance dialect's limit. No partial work is attempted on
// failure.
func (e *Engine) preflightRoles(req Request, instances []*instanceState) ([][]string, error) {
	pairRoles := make([][]string, len(req.Groups))
	for i, groupEmail := range req.Groups {
		pairRoles[i] = make([]string, len(instances))
		for j, instance := range instances {
			role, ok := req.RoleMappings[groupEmail]
			if !ok {
				role = instance.version.DefaultRoleName(groupEmail)
			}
			if limit := instance.version.MaxRoleNameLength(); len(role) > limit {
				return nil, trace.BadParameter(
					"database role %q for IAM group %q exceeds the %v %d-character limit, configure a shorter role mapping for this group",
					role, groupEmail, instance.version.Family(), limit)
			}
			pairRoles[i][j] = role
		}
	}
	return pairRoles, nil
}

// syncPair reconciles one (group, instance) pair in two phases: provision
// missing database users and ensure the role exists, then diff current
// grants against membership and apply the plan.
func (e *Engine) syncPair(ctx context.Context, dialer gcp.Dialer, groupEmail string, groupMembers map[string]struct{}, instance *instanceState, role string) (*PairResult, error) {
	result := &PairResult{
		Group:    groupEmail,
		Instance: instance.name.String(),
		Role:     role,
	}

	// Phase 1: create missing database users and the group role. The two
	// run concurrently on independent connections. A plain errgroup lets a
	// failing task's sibling run to completion so the role connection never
	// leaks.
	var svc roles.Service
	var phase errgroup.Group
	phase.Go(func() error {
		created, failed := e.provisionUsers(ctx, instance, groupMembers)
		result.UsersCreated, result.UsersFailed = created, failed
		return nil
	})
	phase.Go(func() error {
		service, err := e.cfg.NewRoleService(ctx, roles.Config{
			Instance:    instance.name,
			Version:     instance.version,
			Dialer:      dialer,
			TokenSource: e.cfg.TokenSource,
			AdminEmail:  e.cfg.AdminEmail,
			Log:         e.cfg.Log,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		svc = service
		return trace.Wrap(svc.CreateRole(ctx, role))
	})
	if err := phase.Wait(); err != nil {
		if svc != nil {
			if closeErr := svc.Close(ctx); closeErr != nil {
				e.cfg.Log.WarnContext(ctx, "Failed to close role service connection.", "instance", instance.name.String(), "error", closeErr)
			}
		}
		return nil, trace.Wrap(err)
	}
	defer func() {
		if err := svc.Close(ctx); err != nil {
			e.cfg.Log.WarnContext(ctx, "Failed to close role service connection.", "instance", instance.name.String(), "error", err)
		}
	}()

	// Phase 2: diff and apply. Desired and held sets are both in the
	// instance-local name space before comparison.
	desired := make([]string, 0, len(groupMembers))
	for member := range groupMembers {
		desired = append(desired, instance.version.LocalUsername(member))
	}
	held, err := svc.FetchRoleGrants(ctx, role)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	plan := ComputePlan(desired, held)

	phase = errgroup.Group{}
	phase.Go(func() error {
		return trace.Wrap(svc.RevokeRole(ctx, role, plan.Revoke))
	})
	phase.Go(func() error {
		return trace.Wrap(svc.GrantRole(ctx, role, plan.Grant))
	})
	if err := phase.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}

	result.Granted = len(plan.Grant)
	result.Revoked = len(plan.Revoke)
	e.cfg.Log.InfoContext(ctx, "Reconciled pair.",
		"group", groupEmail,
		"instance", instance.name.String(),
		"role", role,
		"users_created", result.UsersCreated,
		"users_failed", result.UsersFailed,
		"granted", result.Granted,
		"revoked", result.Revoked,
	)
	return result, nil
}

// provisionUsers creates a database user for every group member missing one.
// Creation failures are absorbed per account: one bad account must not block
// role reconciliation for the members that already exist.
func (e *Engine) provisionUsers(ctx context.Context, instance *instanceState, groupMembers map[string]struct{}) (created, failed int) {
	existing := make(map[string]struct{}, len(instance.users))
	for _, user := range instance.users {
		existing[user] = struct{}{}
	}

	missing := make([]string, 0, len(groupMembers))
	for member := range groupMembers {
		if _, ok := existing[instance.version.LocalUsername(member)]; !ok {
			missing = append(missing, member)
		}
	}
	sort.Strings(missing)

	for _, member := range missing {
		if err := e.cfg.SQLAdmin.InsertUser(ctx, instance.name, member); err != nil {
			if trace.IsAlreadyExists(err) {
				e.cfg.Log.DebugContext(ctx, "Database user already exists.", "user", member, "instance", instance.name.String())
				continue
			}
			failed++
			e.cfg.Log.WarnContext(ctx, "Failed to create database user.", "user", member, "instance", instance.name.String(), "error", err)
			continue
		}
		created++
	}
	return created, failed
}
