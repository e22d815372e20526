package hwdev

import "strings"

// Type identifies a hardware family.
type Type int

// Hardware families.
const (
	TypeInvalid Type = iota
	TypeSensor
	TypeActuator
	TypeOIS
	TypeFlash
	TypeEEPROM
	TypeCSIPHY
	TypeISPFront
	TypeISPBack
	TypeJPEG
	TypeFD
	TypeLRME
	TypeCPAS
	TypeCustom
	TypeReqMgr
)

var typeNames = map[Type]string{
	TypeInvalid:  "invalid",
	TypeSensor:   "sensor",
	TypeActuator: "actuator",
	TypeOIS:      "ois",
	TypeFlash:    "flash",
	TypeEEPROM:   "eeprom",
	TypeCSIPHY:   "csiphy",
	TypeISPFront: "isp_front",
	TypeISPBack:  "isp_back",
	TypeJPEG:     "jpeg",
	TypeFD:       "fd",
	TypeLRME:     "lrme",
	TypeCPAS:     "cpas",
	TypeCustom:   "custom",
	TypeReqMgr:   "req_mgr",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// nodeNames maps the driver's entity name prefix to a family.
var nodeNames = []struct {
	prefix string
	typ    Type
}{
	{"cam-req-mgr", TypeReqMgr},
	{"cam-cpas", TypeCPAS},
	{"cam-sensor", TypeSensor},
	{"cam-actuator", TypeActuator},
	{"cam-ois", TypeOIS},
	{"cam-flash", TypeFlash},
	{"cam-eeprom", TypeEEPROM},
	{"cam-csiphy", TypeCSIPHY},
	{"cam-isp", TypeISPFront},
	{"cam-icp", TypeISPBack},
	{"cam-jpeg", TypeJPEG},
	{"cam-fd", TypeFD},
	{"cam-lrme", TypeLRME},
	{"cam-custom", TypeCustom},
}

// ResolveType maps a driver node name to its family, or TypeInvalid.
func ResolveType(name string) Type {
	name = strings.TrimSpace(name)
	for _, n := range nodeNames {
		if strings.HasPrefix(name, n.prefix) {
			return n.typ
		}
	}
	return TypeInvalid
}
