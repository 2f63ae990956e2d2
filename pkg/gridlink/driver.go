package gridlink

// Driver is the capability surface the control plane depends on.
// Implementations talk to real hardware (modbus) or simulate it.
// All calls are safe for use from multiple goroutines.
type Driver interface {
	Open() error
	Close() error

	// ListComponents reports the inventory discovered behind this driver.
	ListComponents() ([]ComponentInfo, error)

	GetFeatures(id uint32) (*Features, error)
	GetHardwareState(id uint32) (*HardwareState, error)
	GetErrorState(id uint32) (ErrorState, error)

	SetRelay(id uint32, relay Relay, closed bool) error
	SetPower(id uint32, kind PowerKind, value float64) error

	// BeginPrecharge starts the precharge sequence and returns immediately.
	// Completion is observed through a later hardware state read showing the
	// DC relay closed.
	BeginPrecharge(id uint32) error

	AckError(id uint32) error
}
