package hwdev

type sensorOps struct {
	base
	leasing
	streaming
	submitting
	probing
}

type actuatorOps struct {
	base
	leasing
	streaming
	submitting
}

type flashOps struct {
	base
	leasing
	streaming
	submitting
	flushing
}

type eepromOps struct {
	base
	leasing
	submitting
}

type csiphyOps struct {
	base
	leasing
	streaming
	submitting
}

type ispOps struct {
	base
	leasing
	streaming
	submitting
	hwAcquiring
	flushing
	dumping
}

type jpegOps struct {
	base
	leasing
	submitting
	hwAcquiring
	flushing
}

type offlineOps struct {
	base
	leasing
	streaming
	submitting
	flushing
}

type plainOps struct {
	base
}

type customOps struct {
	base
	leasing
	streaming
	submitting
	hwAcquiring
	flushing
	dumping
}

func builtinFamilies() []Ops {
	rt := Participation{Realtime: true}
	return []Ops{
		&sensorOps{base: base{typ: TypeSensor, capSize: 64, part: Participation{Realtime: true, SensorPath: true, Standby: true}}},
		&actuatorOps{base: base{typ: TypeActuator, capSize: 16, part: rt}},
		&actuatorOps{base: base{typ: TypeOIS, capSize: 16, part: rt}},
		&flashOps{base: base{typ: TypeFlash, capSize: 32, part: rt}},
		&eepromOps{base: base{typ: TypeEEPROM, capSize: 32, part: rt}},
		&csiphyOps{base: base{typ: TypeCSIPHY, capSize: 24, part: Participation{Realtime: true, SensorPath: true}}},
		&ispOps{base: base{typ: TypeISPFront, capSize: 128, part: rt, iommu: true}},
		&ispOps{base: base{typ: TypeISPBack, capSize: 96, iommu: true}},
		&jpegOps{base: base{typ: TypeJPEG, capSize: 64, iommu: true}},
		&offlineOps{base: base{typ: TypeFD, capSize: 48, iommu: true}},
		&offlineOps{base: base{typ: TypeLRME, capSize: 40, iommu: true}},
		&plainOps{base: base{typ: TypeCPAS, capSize: 64, iommu: true}},
		&plainOps{base: base{typ: TypeReqMgr}},
		&customOps{base: base{typ: TypeCustom, capSize: 64, part: rt}},
	}
}
