// Package hotplug watches kernel uevents for camera device nodes and feeds
// add/remove notifications to the registry.
package hotplug

import (
	"bytes"
	"strings"
)

// Uevent actions the registry acts on. Others are parsed but ignored.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// SubsystemVideo4Linux is the subsystem of every camera node.
const SubsystemVideo4Linux = "video4linux"

// Node name prefixes that belong to the camera pipeline.
var cameraNodePrefixes = []string{"video", "v4l-subdev"}

// Event is one parsed kernel uevent.
type Event struct {
	Action    string
	KObj      string // /devices/platform/...
	Subsystem string
	DevName   string // video3, v4l-subdev7
	Env       map[string]string
}

// IsCameraNode reports whether the event concerns a node the registry
// manages.
func (e Event) IsCameraNode() bool {
	if e.Subsystem != SubsystemVideo4Linux || e.DevName == "" {
		return false
	}
	name := e.DevName
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, p := range cameraNodePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ParseUEvent decodes "ACTION@KOBJ\0KEY=VALUE\0...". Messages relayed by
// udevd carry a binary "libudev" header which is skipped.
func ParseUEvent(data []byte) (Event, bool) {
	if bytes.HasPrefix(data, []byte("libudev")) {
		data = skipUdevHeader(data)
	}

	parts := bytes.Split(data, []byte{0})
	if len(parts) == 0 || len(parts[0]) == 0 {
		return Event{}, false
	}

	action, kobj, ok := strings.Cut(string(parts[0]), "@")
	if !ok || action == "" {
		return Event{}, false
	}

	ev := Event{Action: action, KObj: kobj, Env: make(map[string]string)}
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(string(part), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVNAME":
			ev.DevName = value
		}
	}
	return ev, true
}

func skipUdevHeader(data []byte) []byte {
	for i, b := range data {
		if b != 0 {
			continue
		}
		rest := data[i+1:]
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			end = len(rest)
		}
		if at := bytes.IndexByte(rest[:end], '@'); at > 0 && at < 20 {
			return rest
		}
	}
	return data
}
