package gridlink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// ModbusDriver implements Driver against the gridwarden modbus TCP bridge.
// The underlying modbus client is not safe for concurrent use, so every
// operation runs under a single mutex.
type ModbusDriver struct {
	mu     sync.Mutex
	client *modbus.ModbusClient
	logger *zap.Logger

	// id -> component window index, filled by survey on Open
	windows map[uint32]uint16
}

func CreateModbusDriver(host string, port uint, unitId uint8, timeout time.Duration, logger *zap.Logger) (*ModbusDriver, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.SetUnitId(unitId); err != nil {
		return nil, err
	}
	return &ModbusDriver{
		client:  client,
		logger:  logger.With(zap.String("driver", "modbus")),
		windows: map[uint32]uint16{},
	}, nil
}

func (d *ModbusDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.client.Open(); err != nil {
		return err
	}
	return d.survey()
}

func (d *ModbusDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client.Close()
}

// survey walks the component table and caches id -> window mappings.
func (d *ModbusDriver) survey() error {
	count, err := d.client.ReadRegister(regComponentCount, modbus.HOLDING_REGISTER)
	if err != nil {
		return err
	}
	d.windows = make(map[uint32]uint16, count)
	for i := uint16(0); i < count; i++ {
		id, err := d.client.ReadRegister(componentBase(i)+offID, modbus.HOLDING_REGISTER)
		if err != nil {
			return err
		}
		d.windows[uint32(id)] = i
	}
	d.logger.Info("modbus survey complete", zap.Int("components", int(count)))
	return nil
}

func (d *ModbusDriver) ListComponents() ([]ComponentInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	infos := make([]ComponentInfo, 0, len(d.windows))
	for id, window := range d.windows {
		info, err := d.readInfo(id, window)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

func (d *ModbusDriver) GetFeatures(id uint32) (*Features, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	window, err := d.window(id)
	if err != nil {
		return nil, err
	}
	info, err := d.readInfo(id, window)
	if err != nil {
		return nil, err
	}
	return &info.Features, nil
}

func (d *ModbusDriver) GetHardwareState(id uint32) (*HardwareState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	window, err := d.window(id)
	if err != nil {
		return nil, err
	}
	base := componentBase(window)
	regs, err := d.client.ReadRegisters(base+offACRelay, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	active, err := d.client.ReadUint32(base+offActivePower, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	reactive, err := d.client.ReadUint32(base+offReactivePower, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &HardwareState{
		ACRelayClosed:    regs[0] != 0,
		DCRelayClosed:    regs[1] != 0,
		ActivePowerWatt:  float64(int32(active)) / powerScale,
		ReactivePowerVAr: float64(int32(reactive)) / powerScale,
	}, nil
}

func (d *ModbusDriver) GetErrorState(id uint32) (ErrorState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	window, err := d.window(id)
	if err != nil {
		return ErrorNone, err
	}
	reg, err := d.client.ReadRegister(componentBase(window)+offErrorState, modbus.HOLDING_REGISTER)
	if err != nil {
		return ErrorNone, err
	}
	return ErrorState(reg), nil
}

func (d *ModbusDriver) SetRelay(id uint32, relay Relay, closed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	window, err := d.window(id)
	if err != nil {
		return err
	}
	offset := uint16(offACRelay)
	if relay == RelayDC {
		offset = offDCRelay
	}
	var value uint16
	if closed {
		value = 1
	}
	return d.client.WriteRegister(componentBase(window)+offset, value)
}

func (d *ModbusDriver) SetPower(id uint32, kind PowerKind, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	window, err := d.window(id)
	if err != nil {
		return err
	}
	offset := uint16(offActivePower)
	if kind == PowerReactive {
		offset = offReactivePower
	}
	scaled := int32(value * powerScale)
	return d.client.WriteUint32(componentBase(window)+offset, uint32(scaled))
}

func (d *ModbusDriver) BeginPrecharge(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	window, err := d.window(id)
	if err != nil {
		return err
	}
	return d.client.WriteRegister(componentBase(window)+offPrecharge, 1)
}

func (d *ModbusDriver) AckError(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	window, err := d.window(id)
	if err != nil {
		return err
	}
	return d.client.WriteRegister(componentBase(window)+offAckError, 1)
}

func (d *ModbusDriver) window(id uint32) (uint16, error) {
	window, ok := d.windows[id]
	if !ok {
		return 0, errors.New("modbus: unknown component id")
	}
	return window, nil
}

func (d *ModbusDriver) readInfo(id uint32, window uint16) (*ComponentInfo, error) {
	base := componentBase(window)
	regs, err := d.client.ReadRegisters(base+offCategory, 4, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	flags := regs[1]
	return &ComponentInfo{
		ID:       id,
		Name:     fmt.Sprintf("component_%d", id),
		Category: Category(regs[0]),
		Features: Features{
			HasACRelay:                 flags&flagHasACRelay != 0,
			HasDCRelay:                 flags&flagHasDCRelay != 0,
			SupportsPrecharge:          flags&flagSupportsPrecharge != 0,
			ActivePowerResolutionW:     float64(regs[2]),
			ReactivePowerResolutionVAr: float64(regs[3]),
		},
	}, nil
}

// ensure interface compliance
var _ Driver = (*ModbusDriver)(nil)
