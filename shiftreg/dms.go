package shiftreg

import (
	"fmt"
	"strconv"
)

// DMSBits is the width of the board's DMS control register.
const DMSBits = 16

// Outputs of the DMS control register.
const (
	IEPE1On = iota
	IEPE2On
	IEPE3On
	IEPE4On
	UB1On
	UB2On
	UB3On
	UB4On
	QSPICS0
	QSPICS1
	QSPICS2
	QSPICS3
	SPICh0
	SPICh1
	SPICh2
	DACOn
)

var dmsNames = map[string]int{
	"iepe1": IEPE1On, "iepe2": IEPE2On, "iepe3": IEPE3On, "iepe4": IEPE4On,
	"ub1": UB1On, "ub2": UB2On, "ub3": UB3On, "ub4": UB4On,
	"qspi-cs0": QSPICS0, "qspi-cs1": QSPICS1, "qspi-cs2": QSPICS2, "qspi-cs3": QSPICS3,
	"spi-ch0": SPICh0, "spi-ch1": SPICh1, "spi-ch2": SPICh2,
	"dac": DACOn,
}

// ParseDMSPin accepts an output name such as "iepe1" or "dac", or a bit number.
func ParseDMSPin(name string) (int, error) {
	if bit, ok := dmsNames[name]; ok {
		return bit, nil
	}
	if bit, err := strconv.Atoi(name); err == nil && bit >= 0 && bit < DMSBits {
		return bit, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBitOutOfRange, name)
}

// DMSPinName returns the name of a DMS register output.
func DMSPinName(bit int) string {
	for name, b := range dmsNames {
		if b == bit {
			return name
		}
	}
	return fmt.Sprintf("bit%d", bit)
}
