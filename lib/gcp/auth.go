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

// Package gcp provides clients for the Google Cloud services the sync
// engine depends on: the Admin SDK Directory API for group membership, the
// Cloud SQL Admin API for instance users and versions, and the Cloud SQL
// connector for database connections.
package gcp

import (
	directoryv1 "google.golang.org/api/admin/directory/v1"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"
)

// sqlLoginScope authorizes IAM database authentication token exchange. The
// sqladmin package does not export a constant for it.
const sqlLoginScope = "https://www.googleapis.com/auth/sqlservice.login"

// Scopes returns the OAuth2 scopes the service needs: read-only group
// membership, Cloud SQL administration and IAM database login.
func Scopes() []string {
	return []string{
		directoryv1.AdminDirectoryGroupMemberReadonlyScope,
		sqladmin.SqlserviceAdminScope,
		sqlLoginScope,
	}
}
