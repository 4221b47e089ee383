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

package gcp

import (
	"context"

	"github.com/gravitational/trace"
	directoryv1 "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"
)

const (
	// MemberTypeUser marks a direct user membership.
	MemberTypeUser = "USER"
	// MemberTypeGroup marks a nested group membership.
	MemberTypeGroup = "GROUP"
)

// Member is a single entry of an IAM group's membership list.
type Member struct {
	// Email is the member's IAM email.
	Email string
	// Type is the member kind reported by the directory, one of "USER",
	// "GROUP" or "CUSTOMER". Kinds other than user and group are ignored
	// during group expansion.
	Type string
}

// DirectoryClient provides read access to IAM group membership.
type DirectoryClient interface {
	// ListGroupMembers returns the direct members of a group. It fails if
	// the group does not exist or is not accessible.
	ListGroupMembers(ctx context.Context, group string) ([]Member, error)
}

// NewDirectoryClient returns a DirectoryClient backed by the Admin SDK
// Directory API.
func NewDirectoryClient(ctx context.Context, opts ...option.ClientOption) (DirectoryClient, error) {
	service, err := directoryv1.NewService(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &directoryClient{service: service}, nil
}

// directoryClient implements DirectoryClient by wrapping directoryv1.Service.
type directoryClient struct {
	service *directoryv1.Service
}

// ListGroupMembers returns the direct members of a group, following list
// pagination.
func (c *directoryClient) ListGroupMembers(ctx context.Context, group string) ([]Member, error) {
	var members []Member
	err := c.service.Members.List(group).Pages(ctx, func(page *directoryv1.Members) error {
		for _, member := range page.Members {
			members = append(members, Member{
				Email: member.Email,
				Type:  member.Type,
			})
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(convertAPIError(err), "failed to list members of IAM group %q, verify the group exists and is configured correctly", group)
	}
	return members, nil
}
