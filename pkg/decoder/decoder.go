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

package decoder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/everoute/kube-informer/pkg/schema"
	"github.com/everoute/kube-informer/pkg/types"
)

// Decoder turns a stream of newline delimited watch envelopes into WatchEvents.
// A line which can not be decoded becomes an EventError event, the stream is
// not torn down for it. Use a new Decoder for each stream.
type Decoder[T schema.Object] struct {
	reader      *bufio.Reader
	codec       schema.Codec[T]
	maxLineSize int
}

const (
	// DefaultMaxLineSize bounds the memory a single envelope may take.
	DefaultMaxLineSize = 16 << 20
	// size of the line prefix kept in the error of an oversized line
	linePrefixSize = 256
)

// New returns a Decoder reading from r, objects are decoded with codec.
func New[T schema.Object](r io.Reader, codec schema.Codec[T]) *Decoder[T] {
	return &Decoder[T]{
		reader:      bufio.NewReader(r),
		codec:       codec,
		maxLineSize: DefaultMaxLineSize,
	}
}

// WithMaxLineSize sets the max bytes of a line, longer lines are skipped
// and reported as EventError.
func (d *Decoder[T]) WithMaxLineSize(size int) *Decoder[T] {
	d.maxLineSize = size
	return d
}

// Next blocks until a whole line is read and returns the event it carries.
// It returns io.EOF when the stream ends, or the error of the underlying reader.
func (d *Decoder[T]) Next() (schema.WatchEvent[T], error) {
	for {
		line, tooLong, err := d.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			// partial line of a broken stream is dropped
			return schema.WatchEvent[T]{}, err
		}
		if tooLong {
			reason := fmt.Sprintf("line exceeds %d bytes", d.maxLineSize)
			return errorEvent[T](nil, types.NewDecodeErr(line, reason, nil)), nil
		}

		line = bytes.TrimSpace(line)
		if len(line) != 0 {
			// the last line may come without a newline
			return d.decode(line), nil
		}
		if err != nil {
			return schema.WatchEvent[T]{}, err
		}
	}
}

// readLine reads until the next newline. A line longer than maxLineSize is
// consumed to its end without being buffered, only its prefix returns.
func (d *Decoder[T]) readLine() (line []byte, tooLong bool, err error) {
	for {
		chunk, err := d.reader.ReadSlice('\n')
		switch {
		case tooLong:
		case len(line)+len(chunk) > d.maxLineSize:
			tooLong = true
			line = append(line, chunk...)
			if len(line) > linePrefixSize {
				line = line[:linePrefixSize]
			}
			line = append([]byte(nil), line...)
		default:
			line = append(line, chunk...)
		}

		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, tooLong, err
		}
	}
}

func (d *Decoder[T]) decode(line []byte) schema.WatchEvent[T] {
	raw := json.RawMessage(append([]byte(nil), line...))

	var envelope metav1.WatchEvent
	if err := json.Unmarshal(line, &envelope); err != nil {
		return errorEvent[T](raw, types.NewDecodeErr(line, "malformed envelope", err))
	}

	eventType, ok := schema.EventTypeFromWire(watch.EventType(envelope.Type))
	if !ok {
		return errorEvent[T](raw, types.NewDecodeErr(line, "unknown event type "+envelope.Type, nil))
	}

	object := envelope.Object.Raw
	if eventType == schema.EventError {
		return errorEvent[T](raw, decodeStatus(line, object))
	}

	event := schema.WatchEvent[T]{Type: eventType, Raw: raw}
	if len(object) == 0 || bytes.Equal(object, []byte("null")) {
		if eventType == schema.EventBookmark {
			return event
		}
		return errorEvent[T](raw, types.NewDecodeErr(line, "missing object", nil))
	}

	obj, err := d.codec(object)
	switch {
	case err != nil && eventType == schema.EventBookmark:
		// bookmark only carries resourceVersion, which could be read from raw
		return event
	case err != nil:
		return errorEvent[T](raw, types.NewDecodeErr(line, "malformed object", err))
	}
	event.Object, event.HasObject = obj, true

	return event
}

// decodeStatus converts the object of an ERROR event to *apierrors.StatusError.
func decodeStatus(line, object []byte) error {
	var status metav1.Status
	if err := json.Unmarshal(object, &status); err != nil {
		return types.NewDecodeErr(line, "malformed status", err)
	}
	if status.Status == "" {
		status.Status = metav1.StatusFailure
	}
	if status.Message == "" && status.Code == 0 && status.Reason == "" {
		return types.NewDecodeErr(line, "empty status", errors.New("error event carries no status"))
	}
	return &apierrors.StatusError{ErrStatus: status}
}

func errorEvent[T schema.Object](raw json.RawMessage, err error) schema.WatchEvent[T] {
	return schema.WatchEvent[T]{Type: schema.EventError, Err: err, Raw: raw}
}
