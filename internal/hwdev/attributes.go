package hwdev

import (
	"fmt"

	"github.com/smazurov/camhw/internal/hwerr"
)

// AttributeID names a device attribute that callers may override.
type AttributeID uint32

// Device attributes.
const (
	AttrStreamOnOrder AttributeID = iota + 1
	AttrStreamOffOrder
	AttrRealtime
	AttrSensorPath
	AttrStandby
)

func (a AttributeID) String() string {
	switch a {
	case AttrStreamOnOrder:
		return "stream_on_order"
	case AttrStreamOffOrder:
		return "stream_off_order"
	case AttrRealtime:
		return "realtime"
	case AttrSensorPath:
		return "sensor_path"
	case AttrStandby:
		return "standby"
	default:
		return fmt.Sprintf("attribute(%d)", uint32(a))
	}
}

// Attribute is one externally supplied setting.
type Attribute struct {
	ID    AttributeID
	Value uint32
}

// maxOrder bounds order overrides so sorting stays meaningful.
const maxOrder = 64

func validateAttribute(a Attribute) error {
	switch a.ID {
	case AttrStreamOnOrder, AttrStreamOffOrder:
		if a.Value == 0 || a.Value > maxOrder {
			return hwerr.Newf(hwerr.OutOfBounds, "%s must be in 1..%d, got %d", a.ID, maxOrder, a.Value)
		}
	case AttrRealtime, AttrSensorPath, AttrStandby:
		if a.Value > 1 {
			return hwerr.Newf(hwerr.InvalidArgument, "%s is a boolean, got %d", a.ID, a.Value)
		}
	default:
		return hwerr.Newf(hwerr.InvalidArgument, "unknown attribute %s", a.ID)
	}
	return nil
}

// ApplyAttributes configures the device from attrs. Nothing is applied
// unless every attribute is valid.
func (d *Device) ApplyAttributes(attrs []Attribute) error {
	if len(attrs) == 0 {
		return hwerr.New(hwerr.InvalidArgument, "no attributes")
	}
	for _, a := range attrs {
		if err := validateAttribute(a); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range attrs {
		switch a.ID {
		case AttrStreamOnOrder:
			d.order = int(a.Value)
		case AttrStreamOffOrder:
			d.streamOffOrder = int(a.Value)
		case AttrRealtime:
			d.part.Realtime = a.Value == 1
		case AttrSensorPath:
			d.part.SensorPath = a.Value == 1
		case AttrStandby:
			d.part.Standby = a.Value == 1
		}
	}
	d.logger.Debug("Attributes applied", "count", len(attrs), "order", d.order, "stream_off_order", d.streamOffOrder)
	return nil
}
