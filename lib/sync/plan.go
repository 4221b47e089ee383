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

import "sort"

// Plan is the reconciliation diff between the members a role should have and
// the members it currently has. Both input sides must already be normalized
// to the instance-local username convention.
type Plan struct {
	// Grant lists users who should hold the role but do not.
	Grant []string
	// Revoke lists users who hold the role but should not.
	Revoke []string
}

// ComputePlan computes the two-sided set difference between the desired and
// held member sets. The result is deterministic: both lists are sorted and
// deduplicated, and running the plan leaves the held set equal to the
// desired set.
func ComputePlan(desired, held []string) Plan {
	desiredSet := toSet(desired)
	heldSet := toSet(held)

	plan := Plan{
		Grant:  make([]string, 0, len(desiredSet)),
		Revoke: make([]string, 0, len(heldSet)),
	}
	for user := range desiredSet {
		if _, ok := heldSet[user]; !ok {
			plan.Grant = append(plan.Grant, user)
		}
	}
	for user := range heldSet {
		if _, ok := desiredSet[user]; !ok {
			plan.Revoke = append(plan.Revoke, user)
		}
	}
	sort.Strings(plan.Grant)
	sort.Strings(plan.Revoke)
	return plan
}

func toSet(users []string) map[string]struct{} {
	set := make(map[string]struct{}, len(users))
	for _, user := range users {
		set[user] = struct{}{}
	}
	return set
}
