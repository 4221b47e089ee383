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
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jackc/pgconn"
)

// defaultPostgresDatabase is the maintenance database the admin connection
// logs into. Role membership is cluster-wide so any database works, and
// "postgres" always exists on Cloud SQL.
const defaultPostgresDatabase = "postgres"

// fetchRoleGrantsQuery returns the members of a role from the role
// membership catalog.
const fetchRoleGrantsQuery = `SELECT member.rolname
FROM pg_auth_members
JOIN pg_roles parent ON pg_auth_members.roleid = parent.oid
JOIN pg_roles member ON pg_auth_members.member = member.oid
WHERE parent.rolname = $1`

// postgresExecutor executes a parameterized statement and returns the
// resulting rows. Implemented by postgresConn and faked in tests.
type postgresExecutor interface {
	Exec(ctx context.Context, sql string, args ...string) ([][]string, error)
	Close(ctx context.Context) error
}

// postgresService implements Service for Postgres instances using the
// pg_auth_members catalog.
type postgresService struct {
	// mu serializes statements: grant and revoke batches may be applied
	// concurrently over the single admin connection.
	mu   sync.Mutex
	conn postgresExecutor
	log  *slog.Logger
}

func (s *postgresService) exec(ctx context.Context, sql string, args ...string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Exec(ctx, sql, args...)
	return rows, trace.Wrap(err)
}

func newPostgresService(ctx context.Context, config Config) (*postgresService, error) {
	// Postgres IAM authentication uses the email with the service account
	// domain suffix removed. The token exchange is handled by the Cloud SQL
	// connector, so no password is set and TLS is left to the tunnel.
	dsn := fmt.Sprintf("host=cloudsql user=%s dbname=%s sslmode=disable",
		quoteDSNValue(config.Version.LocalUsername(config.AdminEmail)),
		quoteDSNValue(defaultPostgresDatabase),
	)
	connConfig, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	connConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return config.Dialer.Dial(ctx, config.Instance)
	}
	conn, err := pgconn.ConnectConfig(ctx, connConfig)
	if err != nil {
		return nil, trace.Wrap(ConvertError(err))
	}
	return &postgresService{
		conn: &postgresPgConn{conn: conn},
		log:  config.Log,
	}, nil
}

// postgresPgConn adapts pgconn.PgConn to postgresExecutor.
type postgresPgConn struct {
	conn *pgconn.PgConn
}

func (c *postgresPgConn) Exec(ctx context.Context, sql string, args ...string) ([][]string, error) {
	params := make([][]byte, 0, len(args))
	for _, arg := range args {
		params = append(params, []byte(arg))
	}
	result := c.conn.ExecParams(ctx, sql, params, nil, nil, nil).Read()
	if result.Err != nil {
		return nil, trace.Wrap(result.Err)
	}
	rows := make([][]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		fields := make([]string, 0, len(row))
		for _, field := range row {
			fields = append(fields, string(field))
		}
		rows = append(rows, fields)
	}
	return rows, nil
}

func (c *postgresPgConn) Close(ctx context.Context) error {
	return trace.Wrap(c.conn.Close(ctx))
}

// CreateRole ensures the role exists. Postgres has no conditional create, so
// check first and treat a duplicate-object error from a concurrent creator
// as benign.
func (s *postgresService) CreateRole(ctx context.Context, role string) error {
	rows, err := s.exec(ctx, "SELECT 1 FROM pg_roles WHERE rolname = $1", role)
	if err != nil {
		return trace.Wrap(ConvertError(err))
	}
	if len(rows) > 0 {
		return nil
	}
	_, err = s.exec(ctx, fmt.Sprintf("CREATE ROLE %s", quotePostgresIdentifier(role)))
	if err != nil {
		if trace.IsAlreadyExists(ConvertError(err)) {
			s.log.DebugContext(ctx, "Role was created concurrently.", "role", role)
			return nil
		}
		return trace.Wrap(ConvertError(err))
	}
	return nil
}

// FetchRoleGrants returns the usernames the role is granted to, read from
// the pg_auth_members catalog.
func (s *postgresService) FetchRoleGrants(ctx context.Context, role string) ([]string, error) {
	rows, err := s.exec(ctx, fetchRoleGrantsQuery, role)
	if err != nil {
		return nil, trace.Wrap(ConvertError(err))
	}
	users := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		users = append(users, row[0])
	}
	return users, nil
}

// GrantRole grants the role to all users in one batched statement.
func (s *postgresService) GrantRole(ctx context.Context, role string, users []string) error {
	if len(users) == 0 {
		return nil
	}
	s.log.DebugContext(ctx, "Granting Postgres role.", "role", role, "users", users)
	_, err := s.exec(ctx, fmt.Sprintf("GRANT %s TO %s", quotePostgresIdentifier(role), quotePostgresIdentifiers(users)))
	if err != nil {
		return trace.Wrap(ConvertError(err), "failed to grant role %q to users %v", role, users)
	}
	return nil
}

// RevokeRole revokes the role from all users in one batched statement.
func (s *postgresService) RevokeRole(ctx context.Context, role string, users []string) error {
	if len(users) == 0 {
		return nil
	}
	s.log.DebugContext(ctx, "Revoking Postgres role.", "role", role, "users", users)
	_, err := s.exec(ctx, fmt.Sprintf("REVOKE %s FROM %s", quotePostgresIdentifier(role), quotePostgresIdentifiers(users)))
	if err != nil {
		return trace.Wrap(ConvertError(err), "failed to revoke role %q from users %v", role, users)
	}
	return nil
}

// Close releases the admin connection.
func (s *postgresService) Close(ctx context.Context) error {
	return trace.Wrap(s.conn.Close(ctx))
}

// quotePostgresIdentifier returns the identifier quoted with double quotes.
// Identifier names cannot be bound as statement parameters.
func quotePostgresIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quotePostgresIdentifiers(names []string) string {
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, quotePostgresIdentifier(name))
	}
	return strings.Join(quoted, ", ")
}

// quoteDSNValue quotes a value for use in a keyword/value connection string.
func quoteDSNValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return "'" + value + "'"
}
