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
	"strings"

	"github.com/gravitational/trace"
	"google.golang.org/api/option"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"
)

// iamUserType is the SQL Admin API user type for users backed by IAM
// accounts instead of built-in database credentials.
const iamUserType = "CLOUD_IAM_USER"

// InstanceConnectionName identifies exactly one Cloud SQL instance, parsed
// from the "project:region:instance" form.
type InstanceConnectionName struct {
	// Project is the GCP project the instance belongs to.
	Project string
	// Region is the GCP region the instance is located in.
	Region string
	// Instance is the instance name.
	Instance string
}

// ParseInstanceConnectionName parses an instance connection name in the
// "project:region:instance" form.
func ParseInstanceConnectionName(name string) (InstanceConnectionName, error) {
	parts := strings.Split(name, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return InstanceConnectionName{}, trace.BadParameter("invalid instance connection name %q, expected the project:region:instance format", name)
	}
	return InstanceConnectionName{
		Project:  parts[0],
		Region:   parts[1],
		Instance: parts[2],
	}, nil
}

// String returns the instance connection name in its wire form.
func (i InstanceConnectionName) String() string {
	return i.Project + ":" + i.Region + ":" + i.Instance
}

// SQLAdminClient defines an interface providing access to the GCP Cloud SQL
// Admin API.
type SQLAdminClient interface {
	// ListUsers returns the names of all database users of an instance.
	ListUsers(ctx context.Context, instance InstanceConnectionName) ([]string, error)
	// InsertUser creates a new IAM database user on an instance.
	InsertUser(ctx context.Context, instance InstanceConnectionName, email string) error
	// GetDatabaseVersion returns the database version string of an instance,
	// e.g. "MYSQL_8_0" or "POSTGRES_14".
	GetDatabaseVersion(ctx context.Context, instance InstanceConnectionName) (string, error)
}

// NewSQLAdminClient returns a SQLAdminClient wrapping sqladmin.Service.
func NewSQLAdminClient(ctx context.Context, opts ...option.ClientOption) (SQLAdminClient, error) {
	service, err := sqladmin.NewService(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &sqlAdminClient{service: service}, nil
}

// sqlAdminClient implements the SQLAdminClient interface by wrapping
// sqladmin.Service.
type sqlAdminClient struct {
	service *sqladmin.Service
}

// ListUsers returns the names of all database users of an instance.
func (c *sqlAdminClient) ListUsers(ctx context.Context, instance InstanceConnectionName) ([]string, error) {
	resp, err := c.service.Users.List(instance.Project, instance.Instance).Context(ctx).Do()
	if err != nil {
		return nil, trace.Wrap(convertAPIError(err), "failed to list database users of instance %q, verify the instance connection name", instance)
	}
	users := make([]string, 0, len(resp.Items))
	for _, user := range resp.Items {
		users = append(users, user.Name)
	}
	return users, nil
}

// InsertUser creates a new IAM database user on an instance.
func (c *sqlAdminClient) InsertUser(ctx context.Context, instance InstanceConnectionName, email string) error {
	user := &sqladmin.User{
		Name: email,
		Type: iamUserType,
	}
	_, err := c.service.Users.Insert(instance.Project, instance.Instance, user).Context(ctx).Do()
	if err != nil {
		return trace.Wrap(convertAPIError(err), "failed to add IAM user %q to instance %q", email, instance)
	}
	return nil
}

// GetDatabaseVersion returns the database version string of an instance.
func (c *sqlAdminClient) GetDatabaseVersion(ctx context.Context, instance InstanceConnectionName) (string, error) {
	dbi, err := c.service.Instances.Get(instance.Project, instance.Instance).Context(ctx).Do()
	if err != nil {
		return "", trace.Wrap(convertAPIError(err), "failed to get the database version of instance %q, verify the instance connection name", instance)
	}
	return dbi.DatabaseVersion, nil
}
