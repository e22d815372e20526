package kmd

import (
	"encoding/binary"
	"testing"
)

func TestPayloadWireSizes(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		size    int
	}{
		{"query_cap", &QueryCap{Data: make([]byte, 32)}, 16},
		{"acquire_dev", &AcquireDev{}, 24},
		{"device_cmd", &DeviceCmd{}, 8},
		{"config_dev", &ConfigDev{}, 24},
		{"flush_dev", &FlushDev{}, 24},
		{"acquire_hw", &AcquireHW{}, 32},
		{"schedule_request", &ScheduleRequest{}, 40},
		{"link_info", &LinkInfo{}, 8 + 4*MaxLinkDevices + 8},
		{"sync_mode", &SyncModeInfo{}, 16 + 4*MaxSyncLinks},
		{"dump_info", &DumpInfo{}, 56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.payload.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary failed: %v", err)
			}
			if len(b) != tt.size {
				t.Errorf("wire size = %d, want %d", len(b), tt.size)
			}
		})
	}
}

func TestAcquireDevReturnsHandle(t *testing.T) {
	req := &AcquireDev{SessionHandle: 7, Resources: []byte{1, 2, 3}, NumResources: 1}
	b, err := req.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	// resource pointer is patched in at offset 16
	if binary.NativeEndian.Uint64(b[16:]) == 0 {
		t.Error("expected resource handle to carry the resource address")
	}

	// driver writes the device handle at offset 4
	binary.NativeEndian.PutUint32(b[4:], 0x1234)
	if err := req.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if req.DeviceHandle != 0x1234 {
		t.Errorf("DeviceHandle = %#x, want 0x1234", req.DeviceHandle)
	}
}

func TestDumpInfoFilledRoundTrip(t *testing.T) {
	in := &DumpInfo{RequestID: 42, Length: 512}
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	binary.NativeEndian.PutUint64(b[32:], 128)

	var out DumpInfo
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if out.Filled != 128 || out.RequestID != 42 || out.Length != 512 {
		t.Errorf("unexpected decode: %+v", out)
	}
}

func TestOpcodeString(t *testing.T) {
	if OpScheduleRequest.String() != "schedule_request" {
		t.Errorf("String() = %q", OpScheduleRequest.String())
	}
	if Opcode(0x999).String() != "opcode(0x999)" {
		t.Errorf("String() = %q", Opcode(0x999).String())
	}
}
