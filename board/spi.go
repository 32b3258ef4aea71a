package board

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultSPISpeed is the clock used for both the data and the control link.
const DefaultSPISpeed = 20 * physic.MegaHertz

// SPIPort is an open SPI port and its connection.
type SPIPort struct {
	port spi.PortCloser
	conn spi.Conn
}

// OpenSPI initializes the host drivers and connects to the named port,
// e.g. "/dev/spidev0.0" or "SPI0.0".
func OpenSPI(name string, speed physic.Frequency) (*SPIPort, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not initialize host: %w", err)
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port %s: %w", name, err)
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("could not connect to spi port %s: %w", name, err)
	}
	return &SPIPort{port: port, conn: conn}, nil
}

func (p *SPIPort) Tx(w, r []byte) error {
	return p.conn.Tx(w, r)
}

func (p *SPIPort) Close() error {
	return p.port.Close()
}
