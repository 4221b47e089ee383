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

package dialect

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestStripMinorVersion(t *testing.T) {
	tests := []struct {
		version  string
		expected string
	}{
		{"MYSQL_8_0", "MYSQL_8_0"},
		{"MYSQL_8_0_26", "MYSQL_8_0"},
		{"MYSQL_8_0_35", "MYSQL_8_0"},
		{"POSTGRES_15", "POSTGRES_15"},
		{"POSTGRES_14", "POSTGRES_14"},
		{"POSTGRES_13", "POSTGRES_13"},
		{"POSTGRES_10", "POSTGRES_10"},
		{"POSTGRES_9_6", "POSTGRES_9_6"},
	}
	for _, test := range tests {
		t.Run(test.version, func(t *testing.T) {
			require.Equal(t, test.expected, StripMinorVersion(test.version))
		})
	}
}

func TestParseDatabaseVersion(t *testing.T) {
	tests := []struct {
		version    string
		family     Family
		normalized string
		wantErr    bool
	}{
		{version: "MYSQL_8_0", family: FamilyMySQL, normalized: "MYSQL_8_0"},
		{version: "MYSQL_8_0_26", family: FamilyMySQL, normalized: "MYSQL_8_0"},
		{version: "POSTGRES_14", family: FamilyPostgres, normalized: "POSTGRES_14"},
		{version: "POSTGRES_9_6", family: FamilyPostgres, normalized: "POSTGRES_9_6"},
		{version: "SQLSERVER_2019_STANDARD", wantErr: true},
		{version: "", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.version, func(t *testing.T) {
			parsed, err := ParseDatabaseVersion(test.version)
			if test.wantErr {
				require.Error(t, err)
				require.True(t, trace.IsNotImplemented(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.family, parsed.Family())
			require.Equal(t, test.normalized, parsed.String())
		})
	}
}

func TestLocalUsername(t *testing.T) {
	mysql, err := ParseDatabaseVersion("MYSQL_8_0")
	require.NoError(t, err)
	postgres, err := ParseDatabaseVersion("POSTGRES_14")
	require.NoError(t, err)

	require.Equal(t, "user", mysql.LocalUsername("user@example.com"))
	require.Equal(t, "svc@project.iam", postgres.LocalUsername("svc@project.iam.gserviceaccount.com"))
	require.Equal(t, "user@example.com", postgres.LocalUsername("user@example.com"))
}

func TestMaxRoleNameLength(t *testing.T) {
	mysql, err := ParseDatabaseVersion("MYSQL_8_0")
	require.NoError(t, err)
	postgres, err := ParseDatabaseVersion("POSTGRES_14")
	require.NoError(t, err)

	require.Equal(t, 32, mysql.MaxRoleNameLength())
	require.Equal(t, 63, postgres.MaxRoleNameLength())
}

func TestDefaultRoleName(t *testing.T) {
	mysql, err := ParseDatabaseVersion("MYSQL_8_0")
	require.NoError(t, err)
	postgres, err := ParseDatabaseVersion("POSTGRES_14")
	require.NoError(t, err)

	require.Equal(t, "db-users", mysql.DefaultRoleName("db-users@example.com"))
	require.Equal(t, "db-users", postgres.DefaultRoleName("db-users@example.com"))
}
