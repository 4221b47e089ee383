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
	"net"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/gravitational/trace"
	"golang.org/x/oauth2"
)

// Dialer opens network connections to Cloud SQL instances. Connections are
// authenticated with IAM credentials and encrypted by the underlying
// connector, callers treat them as plain net.Conn.
type Dialer interface {
	// Dial connects to the instance identified by an instance connection
	// name.
	Dial(ctx context.Context, instance InstanceConnectionName) (net.Conn, error)
	// Close releases the dialer's background resources.
	Close() error
}

// DialerConfig is the configuration for a Cloud SQL dialer.
type DialerConfig struct {
	// TokenSource supplies OAuth2 tokens for both the connector API calls
	// and IAM database authentication.
	TokenSource oauth2.TokenSource
	// PrivateIP dials the instance's private IP address instead of the
	// public one.
	PrivateIP bool
}

// CheckAndSetDefaults validates the config.
func (c *DialerConfig) CheckAndSetDefaults() error {
	if c.TokenSource == nil {
		return trace.BadParameter("missing parameter TokenSource")
	}
	return nil
}

// NewDialer returns a Dialer backed by the Cloud SQL Go connector with IAM
// database authentication enabled.
func NewDialer(ctx context.Context, config DialerConfig) (Dialer, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	opts := []cloudsqlconn.Option{
		cloudsqlconn.WithTokenSource(config.TokenSource),
		cloudsqlconn.WithIAMAuthN(),
	}
	if config.PrivateIP {
		opts = append(opts, cloudsqlconn.WithDefaultDialOptions(cloudsqlconn.WithPrivateIP()))
	}
	dialer, err := cloudsqlconn.NewDialer(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &sqlDialer{dialer: dialer}, nil
}

// sqlDialer implements Dialer by wrapping cloudsqlconn.Dialer.
type sqlDialer struct {
	dialer *cloudsqlconn.Dialer
}

// Dial connects to the instance identified by an instance connection name.
func (d *sqlDialer) Dial(ctx context.Context, instance InstanceConnectionName) (net.Conn, error) {
	conn, err := d.dialer.Dial(ctx, instance.String())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return conn, nil
}

// Close releases the dialer's background resources.
func (d *sqlDialer) Close() error {
	return trace.Wrap(d.dialer.Close())
}
