package hotplug

import (
	"maps"
	"strings"
	"testing"
)

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  Event
		ok    bool
	}{
		{name: "empty", input: nil},
		{name: "no separator", input: []byte("invalid")},
		{name: "missing action", input: []byte("@/devices/foo")},
		{name: "only nulls", input: []byte{0, 0, 0}},
		{
			name:  "video node add",
			input: []byte("add@/devices/platform/cam/video4linux/video3\x00ACTION=add\x00SUBSYSTEM=video4linux\x00DEVNAME=video3\x00MAJOR=81\x00"),
			want: Event{
				Action:    "add",
				KObj:      "/devices/platform/cam/video4linux/video3",
				Subsystem: "video4linux",
				DevName:   "video3",
				Env:       map[string]string{"ACTION": "add", "SUBSYSTEM": "video4linux", "DEVNAME": "video3", "MAJOR": "81"},
			},
			ok: true,
		},
		{
			name:  "value containing equals",
			input: []byte("change@/devices/x\x00OF_COMPATIBLE_0=vendor,isp=v2\x00\x00"),
			want: Event{
				Action: "change",
				KObj:   "/devices/x",
				Env:    map[string]string{"OF_COMPATIBLE_0": "vendor,isp=v2"},
			},
			ok: true,
		},
		{
			name:  "action without path",
			input: []byte("remove@\x00"),
			want:  Event{Action: "remove", Env: map[string]string{}},
			ok:    true,
		},
		{
			name:  "udev header",
			input: append([]byte("libudev\x00\xfe\xed\xca\xfe\x00"), []byte("remove@/devices/v/video1\x00SUBSYSTEM=video4linux\x00DEVNAME=video1\x00")...),
			want: Event{
				Action:    "remove",
				KObj:      "/devices/v/video1",
				Subsystem: "video4linux",
				DevName:   "video1",
				Env:       map[string]string{"SUBSYSTEM": "video4linux", "DEVNAME": "video1"},
			},
			ok: true,
		},
		{
			name:  "long path",
			input: []byte("add@/devices/" + strings.Repeat("a", 300) + "\x00"),
			want:  Event{Action: "add", KObj: "/devices/" + strings.Repeat("a", 300), Env: map[string]string{}},
			ok:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseUEvent(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Action != tt.want.Action || got.KObj != tt.want.KObj || got.Subsystem != tt.want.Subsystem || got.DevName != tt.want.DevName {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if !maps.Equal(got.Env, tt.want.Env) {
				t.Errorf("Env = %v, want %v", got.Env, tt.want.Env)
			}
		})
	}
}

func TestIsCameraNode(t *testing.T) {
	tests := []struct {
		subsystem string
		devname   string
		want      bool
	}{
		{"video4linux", "video0", true},
		{"video4linux", "v4l-subdev4", true},
		{"video4linux", "v4l/video2", true},
		{"video4linux", "", false},
		{"video4linux", "radio0", false},
		{"media", "media0", false},
		{"sound", "video0", false},
	}

	for _, tt := range tests {
		ev := Event{Subsystem: tt.subsystem, DevName: tt.devname}
		if got := ev.IsCameraNode(); got != tt.want {
			t.Errorf("IsCameraNode(%s/%s) = %v, want %v", tt.subsystem, tt.devname, got, tt.want)
		}
	}
}
