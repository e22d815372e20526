package hwdev

import (
	"encoding/binary"

	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
)

// mmuCapBytes is the IOMMU handle prefix of capability blobs for families
// that DMA through the IOMMU: device non-secure, device secure, CDM
// non-secure, CDM secure.
const mmuCapBytes = 16

// base implements the mandatory part of Ops. Families embed it together
// with the optional behaviours they support.
type base struct {
	typ     Type
	capSize int
	part    Participation
	iommu   bool
}

func (b *base) Type() Type                   { return b.typ }
func (b *base) CapSize() int                 { return b.capSize }
func (b *base) Participation() Participation { return b.part }

func (b *base) Open(d *Device) error {
	fd, err := d.driver.Open(d.path)
	if err != nil {
		return hwerr.Wrap(hwerr.CodeOf(err), "open "+d.path, err)
	}
	d.setFD(fd)
	return nil
}

func (b *base) Close(d *Device) error {
	fd := d.FD()
	if fd < 0 {
		return nil
	}
	d.setFD(-1)
	return d.driver.Close(fd)
}

func (b *base) Ioctl(d *Device, op kmd.Opcode, payload kmd.Payload) error {
	return b.Ioctl2(d, op, payload, kmd.HandleUserPointer)
}

func (b *base) Ioctl2(d *Device, op kmd.Opcode, payload kmd.Payload, ht kmd.HandleType) error {
	return d.control(&kmd.ControlCall{Opcode: op, HandleType: ht, Payload: payload})
}

// KMDQueryCap always round-trips to the driver and replaces the cache.
func (b *base) KMDQueryCap(d *Device) error {
	if b.capSize == 0 {
		return hwerr.Newf(hwerr.Unsupported, "%s has no capability blob", b.typ)
	}
	blob := make([]byte, b.capSize)
	if err := d.ops.Ioctl(d, kmd.OpQueryCap, &kmd.QueryCap{HandleType: kmd.HandleUserPointer, Data: blob}); err != nil {
		return err
	}

	if b.iommu && len(blob) >= mmuCapBytes {
		ne := binary.NativeEndian
		d.setMMU(
			MMUHandles{NonSecure: int32(ne.Uint32(blob[0:])), Secure: int32(ne.Uint32(blob[4:]))},
			MMUHandles{NonSecure: int32(ne.Uint32(blob[8:])), Secure: int32(ne.Uint32(blob[12:]))},
		)
	}

	d.capsMu.Lock()
	d.caps = blob
	d.capsMu.Unlock()
	return nil
}

// UMDQueryCap serves the cached blob, loading it on first use.
func (b *base) UMDQueryCap(d *Device, out []byte) error {
	if b.capSize == 0 {
		return hwerr.Newf(hwerr.Unsupported, "%s has no capability blob", b.typ)
	}
	if len(out) != b.capSize {
		return hwerr.Newf(hwerr.SizeMismatch, "%s capability is %d bytes, got buffer of %d", b.typ, b.capSize, len(out))
	}

	d.capsMu.Lock()
	cached := d.caps
	d.capsMu.Unlock()

	if cached == nil {
		if err := d.ops.KMDQueryCap(d); err != nil {
			return err
		}
		d.capsMu.Lock()
		cached = d.caps
		d.capsMu.Unlock()
	}
	copy(out, cached)
	return nil
}

type leasing struct{}

func (leasing) Acquire(d *Device, req AcquireRequest) (int32, error) {
	p := &kmd.AcquireDev{
		SessionHandle: req.SessionHandle,
		HandleType:    kmd.HandleUserPointer,
		NumResources:  req.NumResources,
		Resources:     req.Resources,
	}
	if err := d.ops.Ioctl(d, kmd.OpAcquireDev, p); err != nil {
		return 0, err
	}
	return p.DeviceHandle, nil
}

func (leasing) Release(d *Device, session, handle int32) error {
	return d.ops.Ioctl(d, kmd.OpReleaseDev, &kmd.DeviceCmd{SessionHandle: session, DeviceHandle: handle})
}

type streaming struct{}

func (streaming) StreamOn(d *Device, session, handle int32, _ DeactivateMode) error {
	return d.ops.Ioctl(d, kmd.OpStartDev, &kmd.DeviceCmd{SessionHandle: session, DeviceHandle: handle})
}

func (streaming) StreamOff(d *Device, session, handle int32, _ DeactivateMode) error {
	return d.ops.Ioctl(d, kmd.OpStopDev, &kmd.DeviceCmd{SessionHandle: session, DeviceHandle: handle})
}

type submitting struct{}

func (submitting) Submit(d *Device, session, handle int32, packet, offset uint64) error {
	return d.ops.Ioctl(d, kmd.OpConfigDev, &kmd.ConfigDev{
		SessionHandle: session,
		DeviceHandle:  handle,
		PacketHandle:  packet,
		Offset:        offset,
	})
}

type hwAcquiring struct{}

func (hwAcquiring) AcquireHardware(d *Device, session, handle int32, data []byte) error {
	return d.ops.Ioctl(d, kmd.OpAcquireHW, &kmd.AcquireHW{
		Version:       kmd.AcquireHWVersion1,
		SessionHandle: session,
		DeviceHandle:  handle,
		HandleType:    kmd.HandleUserPointer,
		Data:          data,
	})
}

func (hwAcquiring) AcquireHardwareV2(d *Device, session, handle int32, data []byte) (uint32, error) {
	p := &kmd.AcquireHW{
		Version:       kmd.AcquireHWVersion2,
		SessionHandle: session,
		DeviceHandle:  handle,
		HandleType:    kmd.HandleUserPointer,
		Data:          data,
	}
	if err := d.ops.Ioctl(d, kmd.OpAcquireHW, p); err != nil {
		return 0, err
	}
	return p.AcquiredMask, nil
}

func (hwAcquiring) ReleaseHardware(d *Device, session, handle int32) error {
	return d.ops.Ioctl(d, kmd.OpReleaseHW, &kmd.ReleaseHW{
		Version:       kmd.AcquireHWVersion1,
		SessionHandle: session,
		DeviceHandle:  handle,
	})
}

type flushing struct{}

func (flushing) Flush(d *Device, session, handle int32, ft kmd.FlushType, requestID int64) error {
	return d.ops.Ioctl(d, kmd.OpFlushDev, &kmd.FlushDev{
		SessionHandle: session,
		DeviceHandle:  handle,
		FlushType:     ft,
		RequestID:     requestID,
	})
}

type dumping struct{}

func (dumping) Dump(d *Device, info *kmd.DumpInfo) error {
	return d.ops.Ioctl(d, kmd.OpDumpDev, info)
}

type probing struct{}

func (probing) Probe(d *Device, req ProbeRequest) (bool, error) {
	p := &kmd.SensorProbe{
		SlotID:       req.SlotID,
		SensorID:     req.SensorID,
		PacketHandle: req.PacketHandle,
		Offset:       req.Offset,
	}
	if err := d.ops.Ioctl(d, kmd.OpSensorProbe, p); err != nil {
		return false, err
	}
	return p.Detected != 0, nil
}
