package probe

// Layout holds field offsets relative to the module base address.
type Layout struct {
	BaseXP    uintptr
	JobXP     uintptr
	HP        uintptr
	SP        uintptr
	BaseLevel uintptr
	JobLevel  uintptr
	HPMax     uintptr
	SPMax     uintptr
	Name      uintptr
	NameLen   int
}

// DefaultLayout matches the supported client build.
var DefaultLayout = Layout{
	BaseXP:    0x106B6D0,
	JobXP:     0x106B6E8,
	HP:        0x106F28C,
	SP:        0x106F294,
	BaseLevel: 0x106B6F0,
	JobLevel:  0x106B6F8,
	HPMax:     0x106F290,
	SPMax:     0x106F298,
	Name:      0x1071CD8,
	NameLen:   24,
}
