package scservo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wavebotics/scservo/transports"
)

// DefaultBaudRate is the factory baud rate for most SCS/ST servos.
const DefaultBaudRate = 1000000

// Bus manages communication with servos on a shared half-duplex line.
// All operations are serialized: exactly one request is in flight at a
// time.
type Bus struct {
	transport Transport
	protocol  *Protocol
	timeout   time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	// Ignored if Transport is provided.
	Port string

	// BaudRate is the communication speed. Default is 1000000.
	BaudRate int

	// Protocol version: ProtocolST (default) or ProtocolSC.
	Protocol int

	// Timeout for communication operations. Default is 1 second.
	Timeout time.Duration

	// MinCommandGap is the minimum time between commands. Default is 1ms.
	MinCommandGap time.Duration

	// Logger receives frame traces at debug level. Default is a no-op
	// logger.
	Logger *zap.Logger
}

// NewBus creates a new servo bus with the given configuration.
func NewBus(cfg BusConfig) (*Bus, error) {
	// Set defaults
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	// Get or create transport
	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		var err error
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
	}

	return &Bus{
		transport:   transport,
		protocol:    NewProtocol(cfg.Protocol),
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		minCmdGap:   cfg.MinCommandGap,
		lastCmdTime: time.Now(),
	}, nil
}

// Close closes the bus and releases resources.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Protocol returns the protocol handler for this bus.
func (b *Bus) Protocol() *Protocol {
	return b.protocol
}

// Ping checks whether the servo with the given ID is present on the bus.
// A servo that does not answer within the timeout is reported as absent,
// not as an error. Malformed replies and replies from other IDs are
// errors. Broadcast ping is rejected: every servo would answer at once.
func (b *Bus) Ping(ctx context.Context, id int) (bool, error) {
	if id == int(BroadcastID) {
		return false, fmt.Errorf("%w: cannot ping broadcast address", ErrInvalidID)
	}
	if err := b.validateID(id, false); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, ErrBusClosed
	}

	packet, err := b.protocol.PingPacket(byte(id))
	if err != nil {
		return false, err
	}
	if err := b.sendPacketLocked(packet); err != nil {
		return false, &CommError{Op: "ping", Err: err}
	}

	resp, err := b.readResponseLocked(ctx, b.protocol.ExpectedResponseLength(0))
	if err != nil {
		if errors.Is(err, ErrNoResponse) {
			// An absent servo is a normal answer for ping.
			return false, nil
		}
		return false, &ServoError{ID: id, Op: "ping", Err: err}
	}

	if resp.ID != byte(id) {
		return false, &ServoError{ID: id, Op: "ping", Err: fmt.Errorf("%w: reply from servo %d", ErrWrongServo, resp.ID)}
	}

	if resp.Error.HasError() {
		// The servo is present but reporting a fault.
		return true, &ServoError{ID: id, Op: "ping", Status: resp.Error}
	}

	return true, nil
}

// ReadRegister reads length bytes starting at a servo register address.
func (b *Bus) ReadRegister(ctx context.Context, id int, address byte, length int) ([]byte, error) {
	if id == int(BroadcastID) {
		return nil, ErrBroadcastRead
	}
	if err := b.validateID(id, false); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	return b.readRegisterLocked(ctx, byte(id), address, byte(length))
}

// WriteRegister writes bytes to a servo register. The write is
// fire-and-forget: the instruction is transmitted and the call returns
// without waiting for an ack. Any reply the servo emits is drained by
// the flush preceding the next exchange. The broadcast ID fans the write
// out to every servo on the bus.
func (b *Bus) WriteRegister(ctx context.Context, id int, address byte, data []byte) error {
	return b.sendInstruction(ctx, id, "write", func(pid byte) ([]byte, error) {
		return b.protocol.WritePacket(pid, address, data)
	})
}

// RegWrite stages a buffered write in the servo. The data is latched but
// not applied until an Action instruction arrives, which lets several
// servos apply staged writes in the same instant.
func (b *Bus) RegWrite(ctx context.Context, id int, address byte, data []byte) error {
	return b.sendInstruction(ctx, id, "reg_write", func(pid byte) ([]byte, error) {
		return b.protocol.RegWritePacket(pid, address, data)
	})
}

// Action triggers execution of buffered RegWrite commands. Usually sent
// to BroadcastID so all staged writes apply together.
func (b *Bus) Action(ctx context.Context, id int) error {
	return b.sendInstruction(ctx, id, "action", b.protocol.ActionPacket)
}

// Reset restores the servo's factory settings.
func (b *Bus) Reset(ctx context.Context, id int) error {
	return b.sendInstruction(ctx, id, "reset", b.protocol.ResetPacket)
}

// Internal methods

// sendInstruction transmits a reply-less instruction built by mk.
func (b *Bus) sendInstruction(ctx context.Context, id int, op string, mk func(byte) ([]byte, error)) error {
	if err := b.validateID(id, true); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	packet, err := mk(byte(id))
	if err != nil {
		return err
	}
	if err := b.sendPacketLocked(packet); err != nil {
		return &CommError{Op: op, Err: err}
	}
	return nil
}

func (b *Bus) validateID(id int, allowBroadcast bool) error {
	if allowBroadcast && id == int(BroadcastID) {
		return nil
	}
	if id < 0 || id > int(MaxServoID) {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, id, MaxServoID)
	}
	return nil
}

func (b *Bus) enforceCommandGap() {
	elapsed := time.Since(b.lastCmdTime)
	if elapsed < b.minCmdGap {
		time.Sleep(b.minCmdGap - elapsed)
	}
}

func (b *Bus) sendPacketLocked(packet []byte) error {
	b.enforceCommandGap()

	// Flush any stale input, including acks from earlier fire-and-forget
	// writes.
	b.transport.Flush()

	b.logFrame("tx", packet)

	n, err := b.transport.Write(packet)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))
	}

	b.lastCmdTime = time.Now()

	// Small delay for half-duplex turnaround
	time.Sleep(100 * time.Microsecond)

	return nil
}

func (b *Bus) readRegisterLocked(ctx context.Context, id, address, length byte) ([]byte, error) {
	packet, err := b.protocol.ReadPacket(id, address, length)
	if err != nil {
		return nil, err
	}
	if err := b.sendPacketLocked(packet); err != nil {
		return nil, &CommError{Op: "read", Err: err}
	}

	resp, err := b.readResponseLocked(ctx, b.protocol.ExpectedResponseLength(int(length)))
	if err != nil {
		return nil, &ServoError{ID: int(id), Op: "read", Err: err}
	}

	if resp.ID != id {
		return nil, &ServoError{ID: int(id), Op: "read", Err: fmt.Errorf("%w: reply from servo %d", ErrWrongServo, resp.ID)}
	}

	if len(resp.Parameters) != int(length) {
		return nil, &ServoError{ID: int(id), Op: "read", Err: fmt.Errorf("unexpected parameter count: got %d, want %d", len(resp.Parameters), length)}
	}

	if resp.Error.HasError() {
		// Fault flags do not invalidate the returned data; surface both.
		return resp.Parameters, &ServoError{ID: int(id), Op: "read", Status: resp.Error}
	}

	return resp.Parameters, nil
}

func (b *Bus) readResponseLocked(ctx context.Context, expectedLen int) (Packet, error) {
	data, err := b.readRawBytesLocked(ctx, expectedLen)
	if err != nil {
		return Packet{}, err
	}

	pkt, _, err := b.protocol.Decode(data)
	return pkt, err
}

func (b *Bus) readRawBytesLocked(ctx context.Context, expectedLen int) ([]byte, error) {
	buffer := make([]byte, expectedLen*2) // Extra space for leading garbage
	totalRead := 0
	deadline := time.Now().Add(b.timeout)

	for totalRead < expectedLen {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			if totalRead == 0 {
				return nil, ErrNoResponse
			}
			return nil, fmt.Errorf("%w: read %d of %d expected bytes", ErrTimeout, totalRead, expectedLen)
		}

		remaining := max(time.Until(deadline), 10*time.Millisecond)
		b.transport.SetReadTimeout(remaining)

		n, err := b.transport.Read(buffer[totalRead:])
		if err != nil {
			// A zero-byte read is how timeouts surface while waiting
			if n == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("read error: %w", err)
		}

		totalRead += n
	}

	b.logFrame("rx", buffer[:totalRead])

	return buffer[:totalRead], nil
}

func (b *Bus) logFrame(dir string, frame []byte) {
	if !b.logger.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	b.logger.Debug("bus frame",
		zap.String("dir", dir),
		zap.Int("len", len(frame)),
		zap.String("hex", fmt.Sprintf("% X", frame)),
	)
}
