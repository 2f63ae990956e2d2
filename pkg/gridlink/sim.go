package gridlink

import (
	"fmt"
	"sync"
)

// SimDriver is an in-memory Driver used by tests and by the `sim` driver
// config for bench runs. Relay and power writes are reflected immediately
// in the hardware snapshot; precharge closes the DC relay right away.
type SimDriver struct {
	mu       sync.Mutex
	comps    map[uint32]*simComponent
	calls    []SimCall
	failures map[string]error
}

type simComponent struct {
	info  ComponentInfo
	hw    HardwareState
	errSt ErrorState
}

// SimCall records one driver invocation for assertions.
type SimCall struct {
	Op     string
	ID     uint32
	Detail string
}

func NewSimDriver() *SimDriver {
	return &SimDriver{
		comps:    map[uint32]*simComponent{},
		failures: map[string]error{},
	}
}

// NewSimFleet returns a driver preloaded with one component per category.
func NewSimFleet() *SimDriver {
	d := NewSimDriver()
	d.AddComponent(ComponentInfo{
		ID: 1, Name: "inverter_1", Category: CategoryInverter,
		Features: Features{HasACRelay: true, HasDCRelay: true, ActivePowerResolutionW: 50, ReactivePowerResolutionVAr: 50},
	})
	d.AddComponent(ComponentInfo{
		ID: 2, Name: "battery_1", Category: CategoryBattery,
		Features: Features{HasDCRelay: true, ActivePowerResolutionW: 100},
	})
	d.AddComponent(ComponentInfo{
		ID: 3, Name: "relay_1", Category: CategoryRelay,
		Features: Features{HasACRelay: true},
	})
	d.AddComponent(ComponentInfo{
		ID: 4, Name: "precharge_1", Category: CategoryPrecharge,
		Features: Features{HasDCRelay: true, SupportsPrecharge: true},
	})
	return d
}

func (d *SimDriver) AddComponent(info ComponentInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.comps[info.ID] = &simComponent{info: info}
}

// SetFailure makes every following call of the named op return err until
// cleared with a nil err.
func (d *SimDriver) SetFailure(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

// SetHardware overwrites a component's snapshot, mimicking an external
// hardware-state change.
func (d *SimDriver) SetHardware(id uint32, hw HardwareState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.comps[id]; ok {
		c.hw = hw
	}
}

// SetErrorState injects a hardware error report.
func (d *SimDriver) SetErrorState(id uint32, e ErrorState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.comps[id]; ok {
		c.errSt = e
	}
}

func (d *SimDriver) Calls() []SimCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SimCall, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallCount counts recorded calls of op for a component. Pass op "" to
// count every call for the component.
func (d *SimDriver) CallCount(op string, id uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.ID == id && (op == "" || c.Op == op) {
			n++
		}
	}
	return n
}

func (d *SimDriver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *SimDriver) Open() error  { return nil }
func (d *SimDriver) Close() error { return nil }

func (d *SimDriver) ListComponents() ([]ComponentInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failures["ListComponents"]; err != nil {
		return nil, err
	}
	infos := make([]ComponentInfo, 0, len(d.comps))
	for _, c := range d.comps {
		infos = append(infos, c.info)
	}
	return infos, nil
}

func (d *SimDriver) GetFeatures(id uint32) (*Features, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.component("GetFeatures", id)
	if err != nil {
		return nil, err
	}
	f := c.info.Features
	return &f, nil
}

func (d *SimDriver) GetHardwareState(id uint32) (*HardwareState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.component("GetHardwareState", id)
	if err != nil {
		return nil, err
	}
	hw := c.hw
	return &hw, nil
}

func (d *SimDriver) GetErrorState(id uint32) (ErrorState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.component("GetErrorState", id)
	if err != nil {
		return ErrorNone, err
	}
	return c.errSt, nil
}

func (d *SimDriver) SetRelay(id uint32, relay Relay, closed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.component("SetRelay", id)
	d.record("SetRelay", id, fmt.Sprintf("%s=%t", relay, closed))
	if err != nil {
		return err
	}
	if relay == RelayDC {
		c.hw.DCRelayClosed = closed
	} else {
		c.hw.ACRelayClosed = closed
	}
	return nil
}

func (d *SimDriver) SetPower(id uint32, kind PowerKind, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.component("SetPower", id)
	d.record("SetPower", id, fmt.Sprintf("%s=%g", kind, value))
	if err != nil {
		return err
	}
	if kind == PowerReactive {
		c.hw.ReactivePowerVAr = value
	} else {
		c.hw.ActivePowerWatt = value
	}
	return nil
}

func (d *SimDriver) BeginPrecharge(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.component("BeginPrecharge", id)
	d.record("BeginPrecharge", id, "")
	if err != nil {
		return err
	}
	// instant precharge in simulation
	c.hw.DCRelayClosed = true
	return nil
}

func (d *SimDriver) AckError(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.component("AckError", id)
	d.record("AckError", id, "")
	if err != nil {
		return err
	}
	c.errSt = ErrorNone
	return nil
}

func (d *SimDriver) component(op string, id uint32) (*simComponent, error) {
	if err := d.failures[op]; err != nil {
		return nil, err
	}
	c, ok := d.comps[id]
	if !ok {
		return nil, fmt.Errorf("sim: unknown component id %d", id)
	}
	return c, nil
}

func (d *SimDriver) record(op string, id uint32, detail string) {
	d.calls = append(d.calls, SimCall{Op: op, ID: id, Detail: detail})
}

// ensure interface compliance
var _ Driver = (*SimDriver)(nil)
