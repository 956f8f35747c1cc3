package sensor

import (
	"context"
	"fmt"

	"go.bug.st/serial"

	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/motion"
)

// SerialSource reads CSV samples from an IMU attached to a serial port
type SerialSource struct {
	port     string
	baudRate int
	clock    Clock
	logger   *logger.Logger
	open     func(path string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialSource creates a source for port at baudRate (8N1)
func NewSerialSource(port string, baudRate int, log *logger.Logger) *SerialSource {
	if baudRate <= 0 {
		baudRate = 115200
	}
	return &SerialSource{
		port:     port,
		baudRate: baudRate,
		clock:    MonotonicClock(),
		logger:   log,
		open:     serial.Open,
	}
}

// Name returns the port path
func (s *SerialSource) Name() string {
	return s.port
}

// Mode returns the serial settings used to open the port
func (s *SerialSource) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Run opens the port and reads until ctx is cancelled. Closing the port
// unblocks the pending read.
func (s *SerialSource) Run(ctx context.Context, deliver func(motion.Sample)) error {
	port, err := s.open(s.port, s.Mode())
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.port, err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		port.Close()
	}()

	s.logger.Info("IMU serial port opened", "port", s.port, "baud_rate", s.baudRate)
	return scanSamples(ctx, port, s.clock, false, s.logger, deliver)
}
