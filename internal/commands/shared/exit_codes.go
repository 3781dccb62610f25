// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"errors"
	"fmt"
	"os"

	"github.com/tombee/areahub/internal/config"
	"github.com/tombee/areahub/internal/platform"
)

// Exit codes for areahub commands.
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidConfig   = 2
	ExitReauthorize     = 3
	ExitInvalidRequest  = 4
	ExitUpstream        = 5
)

// ExitError is an error with an associated exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error that exits with ExitExecutionFailed.
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionFailed, Message: msg, Cause: cause}
}

// NewConfigError creates an error that exits with ExitInvalidConfig.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// ExitCodeFor maps an error to the exit code the process should end with.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return ExitInvalidConfig
	}
	switch platform.KindOf(err) {
	case platform.KindNoCredential, platform.KindRefreshUnavailable:
		return ExitReauthorize
	case platform.KindUnknownOperation, platform.KindMissingParameter,
		platform.KindInvalidParameter, platform.KindPreconditionFailed:
		return ExitInvalidRequest
	case platform.KindUpstream, platform.KindTransport, platform.KindRefreshFailed:
		return ExitUpstream
	}
	return ExitExecutionFailed
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	var pe *platform.Error
	if errors.As(err, &pe) {
		if hint := pe.UserMessage(); hint != "" && hint != pe.Message {
			fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", hint)
		}
	}

	os.Exit(ExitCodeFor(err))
}
