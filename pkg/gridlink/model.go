package gridlink

// Category identifies the kind of electrical component behind a driver id.
type Category int

const (
	CategoryOther Category = iota
	CategoryInverter
	CategoryBattery
	CategoryRelay
	CategoryPrecharge
)

func (c Category) String() string {
	switch c {
	case CategoryInverter:
		return "inverter"
	case CategoryBattery:
		return "battery"
	case CategoryRelay:
		return "relay"
	case CategoryPrecharge:
		return "precharge_module"
	default:
		return "other"
	}
}

// Relay selects one of the two relay slots a component may expose.
// Components with a single contactor (plain relays) map it to the AC slot.
type Relay int

const (
	RelayAC Relay = iota
	RelayDC
)

func (r Relay) String() string {
	if r == RelayDC {
		return "dc"
	}
	return "ac"
}

type PowerKind int

const (
	PowerActive PowerKind = iota
	PowerReactive
)

func (k PowerKind) String() string {
	if k == PowerReactive {
		return "reactive"
	}
	return "active"
}

type ErrorState int

const (
	ErrorNone ErrorState = iota
	ErrorRecoverable
	ErrorFatal
)

func ErrorStateToString(e ErrorState) string {
	switch e {
	case ErrorRecoverable:
		return "recoverable"
	case ErrorFatal:
		return "fatal"
	default:
		return "none"
	}
}

// Features is the capability set reported by a component.
// A resolution of 0 means the component cannot apply setpoints of that kind.
type Features struct {
	HasACRelay                 bool
	HasDCRelay                 bool
	SupportsPrecharge          bool
	ActivePowerResolutionW     float64
	ReactivePowerResolutionVAr float64
}

func (f Features) HasRelay(r Relay) bool {
	if r == RelayDC {
		return f.HasDCRelay
	}
	return f.HasACRelay
}

func (f Features) Resolution(kind PowerKind) float64 {
	if kind == PowerReactive {
		return f.ReactivePowerResolutionVAr
	}
	return f.ActivePowerResolutionW
}

// HardwareState is a point-in-time snapshot of the component's substates.
type HardwareState struct {
	ACRelayClosed    bool
	DCRelayClosed    bool
	ActivePowerWatt  float64
	ReactivePowerVAr float64
}

func (h HardwareState) RelayClosed(r Relay) bool {
	if r == RelayDC {
		return h.DCRelayClosed
	}
	return h.ACRelayClosed
}

func (h HardwareState) Power(kind PowerKind) float64 {
	if kind == PowerReactive {
		return h.ReactivePowerVAr
	}
	return h.ActivePowerWatt
}

type ComponentInfo struct {
	ID       uint32
	Name     string
	Category Category
	Features Features
}
