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


package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/everoute/kube-informer/pkg/schema"
	"github.com/everoute/kube-informer/pkg/utils"
)

var typeColors = map[schema.EventType]func(format string, a ...interface{}) string{
	schema.EventAdded:      color.GreenString,
	schema.EventUpdated:    color.YellowString,
	schema.EventDeleted:    color.RedString,
	schema.EventError:      color.HiRedString,
	schema.EventConnect:    color.CyanString,
	schema.EventDisconnect: color.CyanString,
}

// eventPrinter writes one line per event, "TYPE KEY@RESOURCE_VERSION".
type eventPrinter struct {
	out   io.Writer
	color bool
}

func newEventPrinter(out io.Writer, colored bool) *eventPrinter {
	return &eventPrinter{
		out:   out,
		color: colored,
	}
}

func (p *eventPrinter) Print(event schema.WatchEvent[*unstructured.Unstructured]) {
	eventType := fmt.Sprintf("%-10s", event.Type)
	if colorFunc, ok := typeColors[event.Type]; ok && p.color {
		eventType = colorFunc("%s", eventType)
	}

	var detail string
	switch event.Type {
	case schema.EventConnect, schema.EventDisconnect:
		detail = utils.RedactURL(event.URL)
	case schema.EventError:
		detail = fmt.Sprint(event.Err)
	case schema.EventBookmark:
	default:
		detail = schema.KeyOf(event.Object).String()
	}

	if rv := event.ResourceVersion(); rv != "" {
		detail += "@" + rv
	}
	fmt.Fprintf(p.out, "%s %s\n", eventType, detail)
}
