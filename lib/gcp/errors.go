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
	"errors"
	"net/http"

	"github.com/gravitational/trace"
	"google.golang.org/api/googleapi"
)

// convertAPIError converts googleapis errors to trace errors.
func convertAPIError(err error) error {
	var googleAPIErr *googleapi.Error
	if !errors.As(err, &googleAPIErr) {
		return err // Return unmodified.
	}
	switch googleAPIErr.Code {
	case http.StatusNotFound:
		return trace.NotFound("%s", googleAPIErr)
	case http.StatusForbidden:
		return trace.AccessDenied("%s", googleAPIErr)
	case http.StatusConflict:
		return trace.AlreadyExists("%s", googleAPIErr)
	}
	return err // Return unmodified.
}
