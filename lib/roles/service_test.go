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
	"net"
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/gravitational/groupsync/lib/gcp"
)

type nopDialer struct{}

func (nopDialer) Dial(ctx context.Context, instance gcp.InstanceConnectionName) (net.Conn, error) {
	return nil, trace.NotImplemented("nop dialer cannot dial")
}

func (nopDialer) Close() error { return nil }

func validConfig() Config {
	return Config{
		Instance:    gcp.InstanceConnectionName{Project: "proj", Region: "region", Instance: "db"},
		Dialer:      nopDialer{},
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token"}),
		AdminEmail:  "sync-sa@project.iam.gserviceaccount.com",
	}
}

func TestConfigCheckAndSetDefaults(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing instance",
			mutate:  func(c *Config) { c.Instance = gcp.InstanceConnectionName{} },
			wantErr: "Instance",
		},
		{
			name:    "missing dialer",
			mutate:  func(c *Config) { c.Dialer = nil },
			wantErr: "Dialer",
		},
		{
			name:    "missing token source",
			mutate:  func(c *Config) { c.TokenSource = nil },
			wantErr: "TokenSource",
		},
		{
			name:    "missing admin email",
			mutate:  func(c *Config) { c.AdminEmail = "" },
			wantErr: "AdminEmail",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := validConfig()
			test.mutate(&config)
			err := config.CheckAndSetDefaults()
			if test.wantErr == "" {
				require.NoError(t, err)
				require.NotNil(t, config.Log)
				return
			}
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
			require.ErrorContains(t, err, test.wantErr)
		})
	}
}

// A zero database version belongs to no supported family.
func TestNewRejectsUnsupportedFamily(t *testing.T) {
	_, err := New(context.Background(), validConfig())
	require.True(t, trace.IsNotImplemented(err), "expected NotImplemented, got %v", err)
}

func TestConvertError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name:  "nil stays nil",
			err:   nil,
			check: func(err error) bool { return err == nil },
		},
		{
			name:  "postgres insufficient privilege",
			err:   &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege, Message: "permission denied"},
			check: trace.IsAccessDenied,
		},
		{
			name:  "postgres invalid password",
			err:   &pgconn.PgError{Code: pgerrcode.InvalidPassword, Message: "authentication failed"},
			check: trace.IsAccessDenied,
		},
		{
			name:  "postgres duplicate object",
			err:   &pgconn.PgError{Code: pgerrcode.DuplicateObject, Message: "role exists"},
			check: trace.IsAlreadyExists,
		},
		{
			name:  "postgres undefined object",
			err:   &pgconn.PgError{Code: pgerrcode.UndefinedObject, Message: "role does not exist"},
			check: trace.IsNotFound,
		},
		{
			name:  "mysql access denied",
			err:   &mysql.MyError{Code: mysql.ER_ACCESS_DENIED_ERROR, Message: "access denied for user"},
			check: trace.IsAccessDenied,
		},
		{
			name: "unrecognized error unmodified",
			err:  trace.ConnectionProblem(nil, "connection reset"),
			check: func(err error) bool {
				return trace.IsConnectionProblem(err)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.True(t, test.check(ConvertError(test.err)))
		})
	}
}
