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
	"errors"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

// ConvertError converts database driver errors to trace errors.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}
	var pgError *pgconn.PgError
	var myError *mysql.MyError
	switch err := trace.Unwrap(err); {
	case errors.As(err, &pgError):
		return convertPostgresError(pgError)
	case errors.As(err, &myError):
		return convertMySQLError(myError)
	}
	return err // Return unmodified.
}

// convertPostgresError converts Postgres driver errors to trace errors.
func convertPostgresError(err *pgconn.PgError) error {
	switch err.Code {
	case pgerrcode.InvalidAuthorizationSpecification, pgerrcode.InvalidPassword:
		return trace.AccessDenied("%s", err)
	case pgerrcode.InsufficientPrivilege:
		return trace.AccessDenied("%s", err)
	case pgerrcode.DuplicateObject:
		return trace.AlreadyExists("%s", err)
	case pgerrcode.UndefinedObject:
		return trace.NotFound("%s", err)
	}
	return err // Return unmodified.
}

// convertMySQLError converts MySQL driver errors to trace errors.
func convertMySQLError(err *mysql.MyError) error {
	switch err.Code {
	case mysql.ER_ACCESS_DENIED_ERROR, mysql.ER_DBACCESS_DENIED_ERROR, mysql.ER_SPECIFIC_ACCESS_DENIED_ERROR:
		return trace.AccessDenied("%s", fmtEscape(err))
	}
	return err // Return unmodified.
}

// fmtEscape escapes "%" in the original error message to prevent fmt from
// thinking some args are missing.
func fmtEscape(err error) string {
	return strings.ReplaceAll(err.Error(), "%", "%%")
}
