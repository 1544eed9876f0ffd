/*
Copyright 2026 The Everoute Authors.

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

package types

import (
	"errors"
	"fmt"
	"net/http"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

var (
	// ErrAborted returns when the watch was stopped by its owner. It is not a
	// failure and must not trigger reconnect.
	ErrAborted = errors.New("watch aborted by caller")
	// ErrSessionBusy returns when open a session which already has a request in flight.
	ErrSessionBusy = errors.New("watch session already has an outstanding request")
	// ErrResynced is published after a fresh list replaced an expired cursor.
	ErrResynced = errors.New("restarted due to resource version expired")
)

// DecodeErr means one line of the watch stream could not be understood.
type DecodeErr struct {
	Line   string
	Reason string
	err    error
}

func NewDecodeErr(line []byte, reason string, err error) *DecodeErr {
	return &DecodeErr{
		Line:   string(line),
		Reason: reason,
		err:    err,
	}
}

func (d *DecodeErr) Error() string {
	if d.err != nil {
		return fmt.Sprintf("unable decode watch event %q: %s: %s", d.Line, d.Reason, d.err)
	}
	return fmt.Sprintf("unable decode watch event %q: %s", d.Line, d.Reason)
}

func (d *DecodeErr) Unwrap() error {
	return d.err
}

func IsDecodeErr(e error) bool {
	var d *DecodeErr
	return errors.As(e, &d)
}

// IsExpired reports whether the server says the watch cursor is too old to
// resume from, historically HTTP 410 Gone.
func IsExpired(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
		return true
	}
	return StatusCode(err) == http.StatusGone
}

// StatusCode returns the api status code carried by err, or zero.
func StatusCode(err error) int32 {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return status.Status().Code
	}
	return 0
}
