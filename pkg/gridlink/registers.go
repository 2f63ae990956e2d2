package gridlink

// Register layout of the gridwarden modbus bridge.
//
// The bridge exposes a component table followed by a fixed-size register
// window per component. Power values are signed 32-bit, scaled by 10
// (0.1 W / 0.1 VAr per count).
const (
	regComponentCount = 50

	regComponentTableBase = 100
	regComponentWindow    = 16

	// offsets within a component window
	offID            = 0
	offCategory      = 1
	offFeatureFlags  = 2
	offActiveResW    = 3
	offReactiveRes   = 4
	offACRelay       = 5
	offDCRelay       = 6
	offActivePower   = 7 // 2 registers, int32
	offReactivePower = 9 // 2 registers, int32
	offErrorState    = 11
	offAckError      = 12
	offPrecharge     = 13
)

// feature flag bits at offFeatureFlags
const (
	flagHasACRelay        = 1 << 0
	flagHasDCRelay        = 1 << 1
	flagSupportsPrecharge = 1 << 2
)

const powerScale = 10.0

func componentBase(index uint16) uint16 {
	return regComponentTableBase + index*regComponentWindow
}
