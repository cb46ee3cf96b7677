package scservo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wavebotics/scservo/transports"
)

func newTestBus(t *testing.T, mock *transports.MockTransport) *Bus {
	t.Helper()

	bus, err := NewBus(BusConfig{
		Transport: mock,
		Timeout:   100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	return bus
}

func TestNewBus_RequiresTransportOrPort(t *testing.T) {
	_, err := NewBus(BusConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Transport or Port")
}

func TestBus_Ping(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC},
	}
	bus := newTestBus(t, mock)

	present, err := bus.Ping(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, present)

	require.Len(t, mock.Writes, 1)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB}, mock.Writes[0])
}

func TestBus_PingAbsent(t *testing.T) {
	// No response data: the servo is not on the bus.
	mock := &transports.MockTransport{}
	bus, err := NewBus(BusConfig{
		Transport: mock,
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer bus.Close()

	present, err := bus.Ping(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, present)
}

func TestBus_PingFault(t *testing.T) {
	// Servo answers with the overload flag set: present but faulted.
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x02, 0x20, 0xDC},
	}
	bus := newTestBus(t, mock)

	present, err := bus.Ping(context.Background(), 1)
	require.True(t, present)
	require.Error(t, err)

	servoErr, ok := GetServoError(err)
	require.True(t, ok)
	require.Equal(t, StatusOverload, servoErr.Status)
	require.Equal(t, 1, servoErr.ID)
}

func TestBus_PingWrongServo(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x02, 0x02, 0x00, 0xFB},
	}
	bus := newTestBus(t, mock)

	_, err := bus.Ping(context.Background(), 1)
	require.ErrorIs(t, err, ErrWrongServo)
}

func TestBus_PingBroadcastRejected(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	_, err := bus.Ping(context.Background(), int(BroadcastID))
	require.ErrorIs(t, err, ErrInvalidID)
	require.Empty(t, mock.Writes)
}

func TestBus_ReadRegister(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00, 0x08, 0xF2}, // Position 2048
	}
	bus := newTestBus(t, mock)

	data, err := bus.ReadRegister(context.Background(), 1, RegPresentPosition.Address, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x08}, data)
	require.Equal(t, uint16(2048), bus.Protocol().DecodeWord(data))

	require.Len(t, mock.Writes, 1)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x38, 0x02, 0xBE}, mock.Writes[0])
}

func TestBus_ReadRegisterNoResponse(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, err := NewBus(BusConfig{
		Transport: mock,
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer bus.Close()

	_, err = bus.ReadRegister(context.Background(), 1, RegPresentPosition.Address, 2)
	require.ErrorIs(t, err, ErrNoResponse)
	require.True(t, IsNoResponse(err))
}

func TestBus_ReadRegisterPartialResponse(t *testing.T) {
	// The reply stops after three bytes of an eight byte frame.
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01},
	}
	bus, err := NewBus(BusConfig{
		Transport: mock,
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer bus.Close()

	_, err = bus.ReadRegister(context.Background(), 1, RegPresentPosition.Address, 2)
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, IsTimeout(err))
}

func TestBus_ReadRegisterWrongServo(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x02, 0x04, 0x00, 0x00, 0x08, 0xF1},
	}
	bus := newTestBus(t, mock)

	_, err := bus.ReadRegister(context.Background(), 1, RegPresentPosition.Address, 2)
	require.ErrorIs(t, err, ErrWrongServo)

	servoErr, ok := GetServoError(err)
	require.True(t, ok)
	require.Equal(t, 1, servoErr.ID)
}

func TestBus_ReadRegisterBroadcastRejected(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	_, err := bus.ReadRegister(context.Background(), int(BroadcastID), RegPresentPosition.Address, 2)
	require.ErrorIs(t, err, ErrBroadcastRead)
	require.Empty(t, mock.Writes)
}

func TestBus_ReadRegisterFaultKeepsData(t *testing.T) {
	// Overload flag set in the status byte; the register data is still valid.
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x04, 0x20, 0x00, 0x08, 0xD2},
	}
	bus := newTestBus(t, mock)

	data, err := bus.ReadRegister(context.Background(), 1, RegPresentPosition.Address, 2)
	require.Error(t, err)
	require.Equal(t, []byte{0x00, 0x08}, data)

	servoErr, ok := GetServoError(err)
	require.True(t, ok)
	require.Equal(t, StatusOverload, servoErr.Status)
}

func TestBus_WriteRegister(t *testing.T) {
	// A stale ack sits in the receive buffer; the write must neither
	// consume it nor wait for a fresh one.
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC},
	}
	bus := newTestBus(t, mock)

	start := time.Now()
	err := bus.WriteRegister(context.Background(), 1, RegTorqueEnable.Address, []byte{0x01})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 50*time.Millisecond)

	require.Len(t, mock.Writes, 1)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x04, 0x03, 0x28, 0x01, 0xCE}, mock.Writes[0])

	require.True(t, mock.Flushed)
	require.Len(t, mock.ReadData, 6)
}

func TestBus_WriteRegisterBroadcast(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	err := bus.WriteRegister(context.Background(), int(BroadcastID), RegTorqueEnable.Address, []byte{0x01})
	require.NoError(t, err)

	require.Len(t, mock.Writes, 1)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x04, 0x03, 0x28, 0x01, 0xD1}, mock.Writes[0])
}

func TestBus_RegWriteThenAction(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	ctx := context.Background()
	err := bus.RegWrite(ctx, 1, RegGoalPosition.Address, []byte{0x00, 0x08})
	require.NoError(t, err)
	err = bus.Action(ctx, int(BroadcastID))
	require.NoError(t, err)

	require.Len(t, mock.Writes, 2)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x05, 0x04, 0x2A, 0x00, 0x08, 0xC3}, mock.Writes[0])
	require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x02, 0x05, 0xFA}, mock.Writes[1])
}

func TestBus_Reset(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	err := bus.Reset(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, mock.Writes, 1)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x02, 0x06, 0xF6}, mock.Writes[0])
}

func TestBus_InvalidID(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	ctx := context.Background()

	_, err := bus.Ping(ctx, -1)
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = bus.Ping(ctx, 255)
	require.ErrorIs(t, err, ErrInvalidID)

	err = bus.WriteRegister(ctx, 300, RegTorqueEnable.Address, []byte{0x01})
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = bus.ReadRegister(ctx, -1, RegPresentPosition.Address, 2)
	require.ErrorIs(t, err, ErrInvalidID)

	require.Empty(t, mock.Writes)
}

func TestBus_Close(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, err := NewBus(BusConfig{Transport: mock})
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.True(t, mock.Closed)

	// Closing again should be safe
	require.NoError(t, bus.Close())
}

func TestBus_ClosedOperations(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, err := NewBus(BusConfig{Transport: mock})
	require.NoError(t, err)
	bus.Close()

	ctx := context.Background()

	_, err = bus.Ping(ctx, 1)
	require.ErrorIs(t, err, ErrBusClosed)

	_, err = bus.ReadRegister(ctx, 1, RegPresentPosition.Address, 2)
	require.ErrorIs(t, err, ErrBusClosed)

	err = bus.WriteRegister(ctx, 1, RegTorqueEnable.Address, []byte{0x01})
	require.ErrorIs(t, err, ErrBusClosed)
}

func TestBus_ContextCancellation(t *testing.T) {
	// Simulate slow transport
	mock := &transports.MockTransport{
		ReadFunc: func(p []byte) (int, error) {
			time.Sleep(200 * time.Millisecond)
			return 0, nil
		},
	}
	bus, err := NewBus(BusConfig{
		Transport: mock,
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = bus.Ping(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_WriteCanceledContext(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.WriteRegister(ctx, 1, RegTorqueEnable.Address, []byte{0x01})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, mock.Writes)
}

func TestBus_CommandGap(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, err := NewBus(BusConfig{
		Transport:     mock,
		Timeout:       100 * time.Millisecond,
		MinCommandGap: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, bus.WriteRegister(ctx, 1, RegTorqueEnable.Address, []byte{0x01}))
	require.NoError(t, bus.WriteRegister(ctx, 1, RegTorqueEnable.Address, []byte{0x00}))

	// The second command waits out the gap after the first.
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Len(t, mock.Writes, 2)
}

func TestBus_FrameLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00, 0x08, 0xF2},
	}
	bus, err := NewBus(BusConfig{
		Transport: mock,
		Timeout:   100 * time.Millisecond,
		Logger:    zap.New(core),
	})
	require.NoError(t, err)
	defer bus.Close()

	_, err = bus.ReadRegister(context.Background(), 1, RegPresentPosition.Address, 2)
	require.NoError(t, err)

	entries := logs.FilterMessage("bus frame").All()
	require.Len(t, entries, 2)
	require.Equal(t, "tx", entries[0].ContextMap()["dir"])
	require.Equal(t, "rx", entries[1].ContextMap()["dir"])
}
