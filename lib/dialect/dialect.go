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

// Package dialect models the database engine families supported by the sync
// service and the naming rules that differ between them.
package dialect

import (
	"strings"

	"github.com/gravitational/trace"
)

// Family is the database engine family of a Cloud SQL instance.
type Family int

const (
	// FamilyMySQL covers MYSQL_* database versions.
	FamilyMySQL Family = iota + 1
	// FamilyPostgres covers POSTGRES_* database versions.
	FamilyPostgres
)

// String returns a human readable family name.
func (f Family) String() string {
	switch f {
	case FamilyMySQL:
		return "mysql"
	case FamilyPostgres:
		return "postgres"
	}
	return "unknown"
}

const (
	// mysqlMaxRoleNameLength is the maximum username/role length for MySQL.
	//
	// https://dev.mysql.com/doc/refman/8.0/en/user-names.html
	mysqlMaxRoleNameLength = 32
	// postgresMaxRoleNameLength is the maximum identifier length for Postgres
	// built with the default NAMEDATALEN.
	//
	// https://www.postgresql.org/docs/current/sql-syntax-lexical.html#SQL-SYNTAX-IDENTIFIERS
	postgresMaxRoleNameLength = 63

	// serviceAccountSuffix is stripped from IAM service account emails when
	// deriving Postgres usernames, matching Cloud SQL IAM authentication
	// behavior.
	serviceAccountSuffix = ".gserviceaccount.com"
)

// DatabaseVersion identifies the engine family and normalized version of an
// instance, parsed from a SQL Admin API version string such as "MYSQL_8_0_26"
// or "POSTGRES_14".
type DatabaseVersion struct {
	family  Family
	version string
}

// ParseDatabaseVersion parses a SQL Admin API database version string.
// Minor-version suffixes are stripped before any dialect comparison so that
// e.g. MYSQL_8_0_26 and MYSQL_8_0 route identically. Versions outside the
// supported families are rejected.
func ParseDatabaseVersion(version string) (DatabaseVersion, error) {
	normalized := StripMinorVersion(version)
	switch {
	case strings.HasPrefix(normalized, "MYSQL"):
		return DatabaseVersion{family: FamilyMySQL, version: normalized}, nil
	case strings.HasPrefix(normalized, "POSTGRES"):
		return DatabaseVersion{family: FamilyPostgres, version: normalized}, nil
	}
	return DatabaseVersion{}, trace.NotImplemented("database version %q is not supported, only MySQL and Postgres instances can be synced", version)
}

// StripMinorVersion removes the minor version component from a SQL Admin API
// database version string, keeping at most the major version pair:
// "MYSQL_8_0_26" becomes "MYSQL_8_0" while "POSTGRES_9_6" is left as is.
func StripMinorVersion(version string) string {
	parts := strings.Split(version, "_")
	numeric := 0
	for i, part := range parts {
		if !isNumeric(part) {
			continue
		}
		numeric++
		if numeric > 2 {
			return strings.Join(parts[:i], "_")
		}
	}
	return version
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Family returns the engine family.
func (v DatabaseVersion) Family() Family {
	return v.family
}

// String returns the normalized version string.
func (v DatabaseVersion) String() string {
	return v.version
}

// MaxRoleNameLength returns the role/username character limit of the engine
// family.
func (v DatabaseVersion) MaxRoleNameLength() int {
	if v.family == FamilyMySQL {
		return mysqlMaxRoleNameLength
	}
	return postgresMaxRoleNameLength
}

// LocalUsername maps an IAM user or service account email to the username
// convention of the instance. MySQL truncates everything from the "@" sign,
// Postgres keeps the full email but removes the service account domain
// suffix. The same mapping must be applied to both sides of every membership
// comparison.
func (v DatabaseVersion) LocalUsername(email string) string {
	if v.family == FamilyMySQL {
		return MySQLUsername(email)
	}
	return strings.TrimSuffix(email, serviceAccountSuffix)
}

// DefaultRoleName derives the database role mirroring a group when no
// explicit role mapping is configured: the part of the group email before the
// "@" sign.
func (v DatabaseVersion) DefaultRoleName(group string) string {
	name := MySQLUsername(group)
	if v.family == FamilyPostgres {
		name = strings.TrimSuffix(name, serviceAccountSuffix)
	}
	return name
}

// MySQLUsername returns the MySQL username for an IAM email, which is the
// email truncated at the first "@" sign.
func MySQLUsername(email string) string {
	username, _, _ := strings.Cut(email, "@")
	return username
}
