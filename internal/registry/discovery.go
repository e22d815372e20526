package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/lifecycle"
	"github.com/smazurov/camhw/internal/metrics"
)

// Hotplug actions understood by HandleHotplug.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

type sensorSlot struct {
	id  int
	dev *hwdev.Device
}

// SensorSlotInfo describes a staged sensor candidate.
type SensorSlotInfo struct {
	ID   int
	Path string
	Name string
}

// EnumerateResult summarises one discovery pass.
type EnumerateResult struct {
	Added   int
	Staged  int
	Skipped int
	Failed  int
}

// Enumerate scans the driver's class directory and registers every camera
// node it recognises. Sensor nodes are staged as sensor slots until probed.
// Per-node failures are logged and counted, not returned.
func (i *Instance) Enumerate(ctx context.Context) (EnumerateResult, error) {
	var res EnumerateResult

	entries, err := os.ReadDir(i.opts.SysfsClassDir)
	if err != nil {
		return res, hwerr.Wrap(hwerr.Failed, "read "+i.opts.SysfsClassDir, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		name, err := i.readNodeName(e.Name())
		if err != nil {
			i.logger.Debug("Skipping node without name", "node", e.Name(), "error", err)
			res.Skipped++
			continue
		}
		typ := hwdev.ResolveType(name)
		if typ == hwdev.TypeInvalid {
			res.Skipped++
			continue
		}

		path := filepath.Join(i.opts.DevDir, e.Name())
		if i.registered(path) {
			res.Skipped++
			continue
		}

		if typ == hwdev.TypeSensor {
			if _, err := i.AddSensorSlot(path, name); err != nil {
				i.logger.Warn("Failed to stage sensor slot", "path", path, "error", err)
				res.Failed++
				continue
			}
			res.Staged++
			continue
		}

		if _, err := i.AddDevice(path, name, typ); err != nil {
			i.logger.Warn("Failed to add device", "path", path, "type", typ.String(), "error", err)
			res.Failed++
			continue
		}
		res.Added++
	}

	i.logger.Info("Enumeration complete",
		"added", res.Added, "staged", res.Staged, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (i *Instance) readNodeName(node string) (string, error) {
	b, err := os.ReadFile(filepath.Join(i.opts.SysfsClassDir, node, "name"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (i *Instance) registered(path string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if _, ok := i.byPath[path]; ok {
		return true
	}
	for _, s := range i.slots {
		if s.dev.Path() == path {
			return true
		}
	}
	return false
}

func subscriptions(typ hwdev.Type) []kmd.EventKind {
	if typ == hwdev.TypeReqMgr {
		return []kmd.EventKind{kmd.EventSOF, kmd.EventError, kmd.EventSOFBootTS, kmd.EventFrameDone}
	}
	return []kmd.EventKind{kmd.EventError}
}

// openDevice binds ops to a new device, opens its node and subscribes to
// driver events. On failure nothing stays open.
func (i *Instance) openDevice(path, name string, typ hwdev.Type) (*hwdev.Device, error) {
	if typ == hwdev.TypeInvalid {
		return nil, hwerr.Newf(hwerr.InvalidArgument, "%s: unknown device type", path)
	}
	ops, ok := i.table.Lookup(typ)
	if !ok {
		return nil, hwerr.Newf(hwerr.Unsupported, "no operation table for %s", typ)
	}

	d := hwdev.New(path, name, ops, i.driver)
	if err := d.Open(); err != nil {
		return nil, err
	}

	for _, kind := range subscriptions(typ) {
		if err := i.driver.Subscribe(d.FD(), kind); err != nil {
			_ = d.Close()
			return nil, hwerr.Wrap(hwerr.CodeOf(err), "subscribe "+kind.String()+" on "+path, err)
		}
	}

	if i.opts.EagerCaps && ops.CapSize() > 0 {
		if err := ops.KMDQueryCap(d); err != nil {
			i.logger.Warn("Capability query failed", "path", path, "error", err)
		}
	}
	return d, nil
}

// AddDevice opens the node at path and registers it. The request manager is
// held separately and gets arena.Invalid as its index.
func (i *Instance) AddDevice(path, name string, typ hwdev.Type) (arena.Handle, error) {
	leave, err := i.enter()
	if err != nil {
		return arena.Invalid, err
	}
	defer leave()

	if path == "" {
		return arena.Invalid, hwerr.New(hwerr.InvalidArgument, "empty device path")
	}
	if i.registered(path) {
		return arena.Invalid, hwerr.Newf(hwerr.Busy, "%s already registered", path)
	}

	d, err := i.openDevice(path, name, typ)
	if err != nil {
		return arena.Invalid, err
	}
	return i.register(d)
}

// register makes an open device visible and hands its fd to the poll loop.
func (i *Instance) register(d *hwdev.Device) (arena.Handle, error) {
	index := arena.Invalid

	i.mu.Lock()
	switch d.Type() {
	case hwdev.TypeReqMgr:
		if i.reqMgr != nil {
			i.mu.Unlock()
			_ = d.Close()
			return arena.Invalid, hwerr.Newf(hwerr.Busy, "request manager already registered at %s", i.reqMgr.Path())
		}
		i.reqMgr = d
	default:
		h, err := i.devices.Insert(d)
		if err != nil {
			i.mu.Unlock()
			_ = d.Close()
			return arena.Invalid, err
		}
		index = h
		d.SetIndex(h)
		if d.Type() == hwdev.TypeCPAS {
			i.cpas = d
		}
	}
	i.byPath[d.Path()] = d
	i.byFD[d.FD()] = d
	i.mu.Unlock()

	if err := i.loop.Add(d.FD()); err != nil {
		i.logger.Warn("Device events will not be delivered", "path", d.Path(), "error", err)
	}

	metrics.DeviceAdded(d.Type().String())
	i.publishDiscovery(d, "added")
	i.logger.Info("Device added", "path", d.Path(), "type", d.Type().String(), "index", index.String())
	return index, nil
}

// RemoveDevice unregisters and closes the device at index. Devices still
// leased by a session are not removed.
func (i *Instance) RemoveDevice(index arena.Handle) error {
	leave, err := i.enter()
	if err != nil {
		return err
	}
	defer leave()

	i.mu.Lock()
	d, ok := i.devices.Get(index)
	if !ok {
		i.mu.Unlock()
		return hwerr.Newf(hwerr.NotFound, "device %s not found", index)
	}
	if refs := d.Refcount(); refs > 0 {
		i.mu.Unlock()
		return hwerr.Newf(hwerr.Busy, "device %s held by %d sessions", d.Path(), refs)
	}
	i.devices.Remove(index)
	i.mu.Unlock()

	i.closeDevice(d)
	return nil
}

// closeDevice detaches d from every index and closes it.
func (i *Instance) closeDevice(d *hwdev.Device) {
	fd := d.FD()

	i.mu.Lock()
	if idx := d.Index(); idx.Valid() {
		if cur, ok := i.devices.Get(idx); ok && cur == d {
			i.devices.Remove(idx)
		}
	}
	delete(i.byPath, d.Path())
	delete(i.byFD, fd)
	if i.cpas == d {
		i.cpas = nil
	}
	if i.reqMgr == d {
		i.reqMgr = nil
	}
	i.mu.Unlock()

	if fd >= 0 {
		_ = i.loop.Remove(fd)
	}
	if err := d.Close(); err != nil {
		i.logger.Warn("Device close failed", "path", d.Path(), "error", err)
	}
	if d.Type() != hwdev.TypeSensor || d.Index().Valid() {
		metrics.DeviceRemoved(d.Type().String())
	}
	i.publishDiscovery(d, "removed")
	i.logger.Info("Device removed", "path", d.Path(), "type", d.Type().String())
}

// AddSensorSlot opens a sensor candidate and stages it until a probe
// identifies the sensor. It returns the slot id.
func (i *Instance) AddSensorSlot(path, name string) (int, error) {
	leave, err := i.enter()
	if err != nil {
		return 0, err
	}
	defer leave()

	if i.registered(path) {
		return 0, hwerr.Newf(hwerr.Busy, "%s already registered", path)
	}

	i.mu.RLock()
	full := len(i.slots) >= i.opts.MaxDevices
	i.mu.RUnlock()
	if full {
		return 0, hwerr.Newf(hwerr.OutOfBounds, "sensor slot table full (%d)", i.opts.MaxDevices)
	}

	d, err := i.openDevice(path, name, hwdev.TypeSensor)
	if err != nil {
		return 0, err
	}

	i.mu.Lock()
	i.nextSlot++
	slot := &sensorSlot{id: i.nextSlot, dev: d}
	i.slots = append(i.slots, slot)
	n := len(i.slots)
	i.mu.Unlock()

	metrics.SetSensorSlots(n)
	i.logger.Debug("Sensor slot staged", "slot", slot.id, "path", path)
	return slot.id, nil
}

// SensorSlots lists the staged sensor candidates.
func (i *Instance) SensorSlots() []SensorSlotInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]SensorSlotInfo, 0, len(i.slots))
	for _, s := range i.slots {
		out = append(out, SensorSlotInfo{ID: s.id, Path: s.dev.Path(), Name: s.dev.Name()})
	}
	return out
}

func (i *Instance) takeSlot(id int) *sensorSlot {
	i.mu.Lock()
	defer i.mu.Unlock()
	for n, s := range i.slots {
		if s.id == id {
			i.slots = append(i.slots[:n], i.slots[n+1:]...)
			metrics.SetSensorSlots(len(i.slots))
			return s
		}
	}
	return nil
}

func (i *Instance) findSlot(id int) *sensorSlot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, s := range i.slots {
		if s.id == id {
			return s
		}
	}
	return nil
}

// ProbeSensor sends a probe packet to the slot. When the sensor answers,
// the slot is promoted into the device table and its index returned.
// A probe that finds nothing leaves the slot staged and reports false.
func (i *Instance) ProbeSensor(id int, req hwdev.ProbeRequest) (arena.Handle, bool, error) {
	leave, err := i.enter()
	if err != nil {
		return arena.Invalid, false, err
	}
	defer leave()

	slot := i.findSlot(id)
	if slot == nil {
		return arena.Invalid, false, hwerr.Newf(hwerr.NotFound, "sensor slot %d not found", id)
	}
	req.SlotID = uint32(id)

	detected, err := slot.dev.Probe(req)
	if err != nil {
		return arena.Invalid, false, err
	}
	if !detected {
		i.logger.Info("No sensor detected", "slot", id, "path", slot.dev.Path(), "sensor_id", req.SensorID)
		return arena.Invalid, false, nil
	}

	if i.takeSlot(id) == nil {
		return arena.Invalid, false, hwerr.Newf(hwerr.NotFound, "sensor slot %d removed during probe", id)
	}
	index, err := i.register(slot.dev)
	if err != nil {
		return arena.Invalid, false, err
	}
	i.publishDiscovery(slot.dev, "promoted")
	return index, true, nil
}

// RemoveSensorSlot drops a staged candidate and closes its node.
func (i *Instance) RemoveSensorSlot(id int) error {
	slot := i.takeSlot(id)
	if slot == nil {
		return hwerr.Newf(hwerr.NotFound, "sensor slot %d not found", id)
	}
	if err := slot.dev.Close(); err != nil {
		return err
	}
	i.logger.Debug("Sensor slot removed", "slot", id, "path", slot.dev.Path())
	return nil
}

// HandleHotplug applies a kernel add/remove notification for node (for
// example "video3"). Removing a node that is still leased moves the device
// to the error state instead; sessions must tear down before it goes away.
func (i *Instance) HandleHotplug(action, node string) error {
	node = filepath.Base(node)
	path := filepath.Join(i.opts.DevDir, node)

	switch action {
	case ActionAdd:
		if i.registered(path) {
			return nil
		}
		name, err := i.readNodeName(node)
		if err != nil {
			return hwerr.Wrap(hwerr.NotFound, "read name of "+node, err)
		}
		typ := hwdev.ResolveType(name)
		if typ == hwdev.TypeInvalid {
			return nil
		}
		if typ == hwdev.TypeSensor {
			_, err = i.AddSensorSlot(path, name)
			return err
		}
		_, err = i.AddDevice(path, name, typ)
		return err

	case ActionRemove:
		i.mu.RLock()
		d, ok := i.byPath[path]
		i.mu.RUnlock()
		if !ok {
			for _, s := range i.SensorSlots() {
				if s.Path == path {
					return i.RemoveSensorSlot(s.ID)
				}
			}
			return nil
		}
		if d.Type() == hwdev.TypeReqMgr {
			i.logger.Error("Request manager removed", "path", path)
			_ = d.Lifecycle().Transition(lifecycle.StateError)
			return nil
		}
		err := i.RemoveDevice(d.Index())
		if hwerr.IsCode(err, hwerr.Busy) {
			i.logger.Warn("Leased device unplugged", "path", path)
			_ = d.Lifecycle().Transition(lifecycle.StateError)
		}
		return err

	default:
		return nil
	}
}

func (i *Instance) publishDiscovery(d *hwdev.Device, action string) {
	i.bus.Publish(events.DeviceDiscoveryEvent{
		Index:     d.Index().String(),
		Path:      d.Path(),
		Name:      d.Name(),
		Family:    d.Type().String(),
		Action:    action,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
