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

// Command groupsync runs the IAM group to Cloud SQL database role sync
// service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/gravitational/groupsync/lib/gcp"
	"github.com/gravitational/groupsync/lib/sync"
	"github.com/gravitational/groupsync/lib/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("Service exited with error.", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	app := kingpin.New("groupsync", "Sync IAM group membership to Cloud SQL database roles.")
	listenAddr := app.Flag("listen-addr", "HTTP listen address.").Default(":8080").Envar("GROUPSYNC_LISTEN_ADDR").String()
	adminEmail := app.Flag("admin-email", "Service account email used to connect to database instances.").Envar("GROUPSYNC_ADMIN_EMAIL").Required().String()
	debug := app.Flag("debug", "Enable debug logging.").Envar("GROUPSYNC_DEBUG").Bool()
	if _, err := app.Parse(args); err != nil {
		return trace.Wrap(err)
	}

	level := new(slog.LevelVar)
	if *debug {
		level.Set(slog.LevelDebug)
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	tokenSource, err := google.DefaultTokenSource(ctx, gcp.Scopes()...)
	if err != nil {
		return trace.Wrap(err, "failed to load default Google credentials, verify the service account used to run the service")
	}
	directory, err := gcp.NewDirectoryClient(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return trace.Wrap(err)
	}
	sqlAdmin, err := gcp.NewSQLAdminClient(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return trace.Wrap(err)
	}

	engine, err := sync.NewEngine(sync.Config{
		Directory:   directory,
		SQLAdmin:    sqlAdmin,
		TokenSource: tokenSource,
		AdminEmail:  *adminEmail,
		Log:         log,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	handler, err := web.NewHandler(web.HandlerConfig{
		Syncer:   engine,
		LogLevel: level,
		Log:      log,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: handler,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WarnContext(shutdownCtx, "Failed to shut down server gracefully.", "error", err)
		}
	}()

	log.InfoContext(ctx, "Starting groupsync service.", "listen_addr", *listenAddr, "admin_email", *adminEmail)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return trace.Wrap(err)
	}
	return nil
}
