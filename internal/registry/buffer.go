package registry

import (
	"slices"
	"sync"

	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
)

// BufferInfo describes a buffer mapped into one or more IOMMU domains.
type BufferInfo struct {
	MemHandle    uint64
	BufferHandle uint64 // driver handle returned by the map call
	Size         uint64
	Flags        uint32
	MMUHandles   []int32
}

// BufferRegistry tracks mapped buffers by memory handle.
type BufferRegistry interface {
	AddBuffer(info BufferInfo) error
	ReleaseBufferInKernel(memHandle uint64) error
	GetBufferInfo(memHandle uint64) (BufferInfo, bool)
}

// BufferTable is an in-memory BufferRegistry.
type BufferTable struct {
	mu      sync.RWMutex
	buffers map[uint64]BufferInfo
}

// NewBufferTable creates an empty table.
func NewBufferTable() *BufferTable {
	return &BufferTable{buffers: make(map[uint64]BufferInfo)}
}

// AddBuffer records info. A memory handle can be mapped once.
func (t *BufferTable) AddBuffer(info BufferInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.buffers[info.MemHandle]; ok {
		return hwerr.Newf(hwerr.Busy, "buffer %#x already mapped", info.MemHandle)
	}
	info.MMUHandles = slices.Clone(info.MMUHandles)
	t.buffers[info.MemHandle] = info
	return nil
}

// ReleaseBufferInKernel forgets a buffer the driver has unmapped.
func (t *BufferTable) ReleaseBufferInKernel(memHandle uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.buffers[memHandle]; !ok {
		return hwerr.Newf(hwerr.NotFound, "buffer %#x not mapped", memHandle)
	}
	delete(t.buffers, memHandle)
	return nil
}

// GetBufferInfo looks up a mapped buffer.
func (t *BufferTable) GetBufferInfo(memHandle uint64) (BufferInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.buffers[memHandle]
	return info, ok
}

// PopulateMMUHandles collects the device DMA IOMMU handles of the devices
// at indices, deduplicated, in index order.
func (i *Instance) PopulateMMUHandles(indices []arena.Handle, secure bool) ([]int32, error) {
	return i.populate(indices, secure, (*hwdev.Device).MMU)
}

// PopulateCDMMMUHandles collects the command-DMA IOMMU handles of the
// devices at indices.
func (i *Instance) PopulateCDMMMUHandles(indices []arena.Handle, secure bool) ([]int32, error) {
	return i.populate(indices, secure, (*hwdev.Device).CDM)
}

func (i *Instance) populate(indices []arena.Handle, secure bool, pick func(*hwdev.Device) hwdev.MMUHandles) ([]int32, error) {
	leave, err := i.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return i.collectHandles(nil, indices, secure, pick)
}

func (i *Instance) collectHandles(out []int32, indices []arena.Handle, secure bool, pick func(*hwdev.Device) hwdev.MMUHandles) ([]int32, error) {
	for _, idx := range indices {
		d, err := i.device(idx)
		if err != nil {
			return nil, err
		}
		// handles come from the capability blob
		if !d.HasCapabilities() && d.Ops().CapSize() > 0 {
			if err := d.Ops().KMDQueryCap(d); err != nil {
				return nil, err
			}
		}
		h := pick(d).Pick(secure)
		if h == 0 || slices.Contains(out, h) {
			continue
		}
		if len(out) == kmd.MaxMMUHandles {
			return nil, hwerr.Newf(hwerr.OutOfBounds, "more than %d IOMMU handles", kmd.MaxMMUHandles)
		}
		out = append(out, h)
	}
	return out, nil
}

// MapBuffer maps memHandle into the device and command-DMA domains of the
// devices at indices and records it in the buffer registry.
func (i *Instance) MapBuffer(memHandle, size uint64, indices []arena.Handle, secure, readOnly bool) (BufferInfo, error) {
	if memHandle == 0 || size == 0 {
		return BufferInfo{}, hwerr.New(hwerr.InvalidArgument, "buffer needs a memory handle and a size")
	}
	if len(indices) == 0 {
		return BufferInfo{}, hwerr.New(hwerr.InvalidArgument, "no devices to map into")
	}

	leave, err := i.enter()
	if err != nil {
		return BufferInfo{}, err
	}
	defer leave()

	if _, ok := i.buffers.GetBufferInfo(memHandle); ok {
		return BufferInfo{}, hwerr.Newf(hwerr.Busy, "buffer %#x already mapped", memHandle)
	}

	handles, err := i.collectHandles(nil, indices, secure, (*hwdev.Device).MMU)
	if err != nil {
		return BufferInfo{}, err
	}
	handles, err = i.collectHandles(handles, indices, secure, (*hwdev.Device).CDM)
	if err != nil {
		return BufferInfo{}, err
	}
	if len(handles) == 0 {
		return BufferInfo{}, hwerr.New(hwerr.InvalidArgument, "no device exposes an IOMMU handle")
	}

	p := &kmd.MapBuffer{
		MemHandle:  memHandle,
		NumHandles: uint32(len(handles)),
		Size:       size,
	}
	if secure {
		p.Flags |= kmd.MapFlagSecure
	}
	if readOnly {
		p.Flags |= kmd.MapFlagReadOnly
	}
	copy(p.MMUHandles[:], handles)

	if err := i.managerCall(kmd.OpMapBuffer, p); err != nil {
		return BufferInfo{}, err
	}

	info := BufferInfo{
		MemHandle:    memHandle,
		BufferHandle: p.BufferHandle,
		Size:         size,
		Flags:        p.Flags,
		MMUHandles:   handles,
	}
	if err := i.buffers.AddBuffer(info); err != nil {
		// undo the kernel mapping
		_ = i.managerCall(kmd.OpReleaseBuffer, &kmd.ReleaseBuffer{BufferHandle: p.BufferHandle})
		return BufferInfo{}, err
	}
	i.logger.Debug("Buffer mapped", "mem_handle", memHandle, "buffer", p.BufferHandle, "domains", len(handles))
	return info, nil
}

// ReleaseBuffer unmaps a buffer mapped with MapBuffer.
func (i *Instance) ReleaseBuffer(memHandle uint64) error {
	leave, err := i.enter()
	if err != nil {
		return err
	}
	defer leave()

	info, ok := i.buffers.GetBufferInfo(memHandle)
	if !ok {
		return hwerr.Newf(hwerr.NotFound, "buffer %#x not mapped", memHandle)
	}
	if err := i.managerCall(kmd.OpReleaseBuffer, &kmd.ReleaseBuffer{BufferHandle: info.BufferHandle}); err != nil {
		return err
	}
	return i.buffers.ReleaseBufferInKernel(memHandle)
}
