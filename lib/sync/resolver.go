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
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/gravitational/groupsync/lib/gcp"
)

// resolveGroupMembers expands an IAM group into the flat set of user emails
// reachable through it, following nested groups breadth-first.
//
// The searched set only grows and is checked before a group is enqueued,
// which guarantees termination on membership cycles of arbitrary depth and
// that every group is fetched at most once. A lookup failure on the starting
// group is fatal; a failure on a nested group (deleted or inaccessible) is
// logged and contributes no members.
func resolveGroupMembers(ctx context.Context, client gcp.DirectoryClient, log *slog.Logger, group string) (map[string]struct{}, error) {
	users := make(map[string]struct{})
	searched := map[string]struct{}{group: {}}
	queue := []string{group}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		members, err := client.ListGroupMembers(ctx, current)
		if err != nil {
			if current == group {
				return nil, trace.Wrap(err)
			}
			log.WarnContext(ctx, "Skipping nested group that could not be resolved.",
				"group", current, "parent", group, "error", err)
			continue
		}

		for _, member := range members {
			switch member.Type {
			case gcp.MemberTypeUser:
				users[member.Email] = struct{}{}
			case gcp.MemberTypeGroup:
				if _, ok := searched[member.Email]; !ok {
					searched[member.Email] = struct{}{}
					queue = append(queue, member.Email)
				}
			}
		}
	}
	return users, nil
}
