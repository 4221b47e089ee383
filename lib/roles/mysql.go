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

	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"

	"github.com/gravitational/groupsync/lib/dialect"
)

// defaultMySQLSchema is the schema the admin connection selects. The role
// edges catalog lives there and it exists on every MySQL instance.
const defaultMySQLSchema = "mysql"

// mysqlExecutor executes a statement and returns its result. Implemented by
// mysqlConn and faked in tests.
type mysqlExecutor interface {
	Execute(command string, args ...any) (*mysql.Result, error)
	Close() error
}

// mysqlService implements Service for MySQL instances using the role_edges
// catalog.
type mysqlService struct {
	// mu serializes statements: grant and revoke batches may be applied
	// concurrently over the single admin connection.
	mu   sync.Mutex
	conn mysqlExecutor
	log  *slog.Logger
}

func newMySQLService(ctx context.Context, config Config) (*mysqlService, error) {
	// MySQL IAM authentication presents the username truncated at the "@"
	// sign and an OAuth2 access token as the password.
	token, err := config.TokenSource.Token()
	if err != nil {
		return nil, trace.Wrap(err, "failed to get an OAuth2 token for MySQL IAM authentication")
	}
	conn, err := client.ConnectWithDialer(ctx, "tcp", config.Instance.String(),
		dialect.MySQLUsername(config.AdminEmail), token.AccessToken, defaultMySQLSchema,
		func(ctx context.Context, network, addr string) (net.Conn, error) {
			return config.Dialer.Dial(ctx, config.Instance)
		},
	)
	if err != nil {
		return nil, trace.Wrap(ConvertError(err))
	}
	return &mysqlService{
		conn: &mysqlClientConn{Conn: conn},
		log:  config.Log,
	}, nil
}

// mysqlClientConn adapts client.Conn to mysqlExecutor.
type mysqlClientConn struct {
	*client.Conn
}

func (c *mysqlClientConn) Close() error {
	return trace.Wrap(c.Conn.Close())
}

func (s *mysqlService) executeAndCloseResult(command string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.conn.Execute(command, args...)
	if result != nil {
		result.Close()
	}
	return trace.Wrap(err)
}

// CreateRole ensures the role exists. MySQL has native conditional create so
// concurrent creators are never an error.
func (s *mysqlService) CreateRole(ctx context.Context, role string) error {
	err := s.executeAndCloseResult(fmt.Sprintf("CREATE ROLE IF NOT EXISTS %s", quoteMySQLIdentifier(role)))
	if err != nil {
		return trace.Wrap(ConvertError(err))
	}
	return nil
}

// FetchRoleGrants returns the usernames the role is granted to, read from
// the mysql.role_edges catalog.
func (s *mysqlService) FetchRoleGrants(ctx context.Context, role string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.conn.Execute("SELECT TO_USER FROM mysql.role_edges WHERE FROM_USER = ?", role)
	if err != nil {
		return nil, trace.Wrap(ConvertError(err))
	}
	defer result.Close()

	users := make([]string, 0, result.RowNumber())
	for row := range result.Values {
		user, err := result.GetString(row, 0)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		users = append(users, user)
	}
	return users, nil
}

// GrantRole grants the role to each user. Errors abort the batch and
// propagate.
func (s *mysqlService) GrantRole(ctx context.Context, role string, users []string) error {
	for _, user := range users {
		s.log.DebugContext(ctx, "Granting MySQL role.", "role", role, "user", user)
		err := s.executeAndCloseResult(fmt.Sprintf("GRANT %s TO %s", quoteMySQLIdentifier(role), quoteMySQLIdentifier(user)))
		if err != nil {
			return trace.Wrap(ConvertError(err), "failed to grant role %q to user %q", role, user)
		}
	}
	return nil
}

// RevokeRole revokes the role from each user. Errors abort the batch and
// propagate.
func (s *mysqlService) RevokeRole(ctx context.Context, role string, users []string) error {
	for _, user := range users {
		s.log.DebugContext(ctx, "Revoking MySQL role.", "role", role, "user", user)
		err := s.executeAndCloseResult(fmt.Sprintf("REVOKE %s FROM %s", quoteMySQLIdentifier(role), quoteMySQLIdentifier(user)))
		if err != nil {
			return trace.Wrap(ConvertError(err), "failed to revoke role %q from user %q", role, user)
		}
	}
	return nil
}

// Close releases the admin connection.
func (s *mysqlService) Close(ctx context.Context) error {
	return trace.Wrap(s.conn.Close())
}

// quoteMySQLIdentifier returns the identifier quoted with backticks.
// Identifier names cannot be bound as statement parameters.
func quoteMySQLIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
