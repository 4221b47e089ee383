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

package roles

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

type fakeMySQLExecutor struct {
	commands []string
	// failOn fails Execute when the command contains the substring.
	failOn string
	err    error
	closed bool
}

func (f *fakeMySQLExecutor) Execute(command string, args ...any) (*mysql.Result, error) {
	f.commands = append(f.commands, command)
	if f.failOn != "" && strings.Contains(command, f.failOn) {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakeMySQLExecutor) Close() error {
	f.closed = true
	return nil
}

func newTestMySQLService(executor *fakeMySQLExecutor) *mysqlService {
	return &mysqlService{conn: executor, log: slog.Default()}
}

func TestMySQLCreateRole(t *testing.T) {
	executor := &fakeMySQLExecutor{}
	service := newTestMySQLService(executor)

	require.NoError(t, service.CreateRole(context.Background(), "eng"))
	require.Equal(t, []string{"CREATE ROLE IF NOT EXISTS `eng`"}, executor.commands)
}

func TestMySQLGrantRole(t *testing.T) {
	executor := &fakeMySQLExecutor{}
	service := newTestMySQLService(executor)

	require.NoError(t, service.GrantRole(context.Background(), "eng", []string{"alice", "bob"}))
	require.Equal(t, []string{
		"GRANT `eng` TO `alice`",
		"GRANT `eng` TO `bob`",
	}, executor.commands)
}

func TestMySQLGrantRoleEmptyIsNoop(t *testing.T) {
	executor := &fakeMySQLExecutor{}
	service := newTestMySQLService(executor)

	require.NoError(t, service.GrantRole(context.Background(), "eng", nil))
	require.NoError(t, service.RevokeRole(context.Background(), "eng", nil))
	require.Empty(t, executor.commands, "empty user lists must cause no statements")
}

func TestMySQLGrantRoleAbortsBatchOnError(t *testing.T) {
	executor := &fakeMySQLExecutor{
		failOn: "`bob`",
		err:    &mysql.MyError{Code: mysql.ER_SPECIFIC_ACCESS_DENIED_ERROR, Message: "denied"},
	}
	service := newTestMySQLService(executor)

	err := service.GrantRole(context.Background(), "eng", []string{"alice", "bob", "carol"})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
	require.Equal(t, []string{
		"GRANT `eng` TO `alice`",
		"GRANT `eng` TO `bob`",
	}, executor.commands, "the failing statement must abort the batch")
}

func TestMySQLRevokeRole(t *testing.T) {
	executor := &fakeMySQLExecutor{}
	service := newTestMySQLService(executor)

	require.NoError(t, service.RevokeRole(context.Background(), "eng", []string{"stale"}))
	require.Equal(t, []string{"REVOKE `eng` FROM `stale`"}, executor.commands)
}

func TestMySQLFetchRoleGrantsError(t *testing.T) {
	executor := &fakeMySQLExecutor{
		failOn: "role_edges",
		err:    &mysql.MyError{Code: mysql.ER_DBACCESS_DENIED_ERROR, Message: "denied"},
	}
	service := newTestMySQLService(executor)

	_, err := service.FetchRoleGrants(context.Background(), "eng")
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
}

func TestMySQLClose(t *testing.T) {
	executor := &fakeMySQLExecutor{}
	service := newTestMySQLService(executor)

	require.NoError(t, service.Close(context.Background()))
	require.True(t, executor.closed)
}

func TestQuoteMySQLIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "eng", want: "`eng`"},
		{name: "embedded backtick doubled", in: "en`g", want: "`en``g`"},
		{name: "spaces preserved", in: "eng team", want: "`eng team`"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, quoteMySQLIdentifier(test.in))
		})
	}
}
