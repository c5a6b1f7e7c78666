package protocol

import (
	"io"
	"sync"
	"testing"
	"time"
)

// buildTestFrame wraps a payload in a complete frame with the given sequence.
func buildTestFrame(seq uint8, payload []byte) []byte {
	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)
	crc := CRC16(msg)
	msg = append(msg, uint8(crc>>8), uint8(crc&0xFF), MessageValueSync)
	return msg
}

func TestTransportDispatchAndAck(t *testing.T) {
	var gotCmd uint16
	var gotArg uint32

	output := NewScratchOutput()
	transport := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		gotCmd = cmdID
		arg, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		gotArg = arg
		return nil
	})

	// Command 7 with argument 300.
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, 7)
	EncodeVLQUint(scratch, 300)
	frame := buildTestFrame(MessageDest, scratch.Result())

	transport.Receive(NewSliceInputBuffer(frame))

	if gotCmd != 7 {
		t.Errorf("Dispatched command ID %d, want 7", gotCmd)
	}
	if gotArg != 300 {
		t.Errorf("Dispatched argument %d, want 300", gotArg)
	}

	// The ACK must carry the next expected sequence (0x11).
	ack := output.Result()
	if len(ack) != MessageLengthMin {
		t.Fatalf("ACK length %d, want %d", len(ack), MessageLengthMin)
	}
	if ack[MessagePositionSeq] != MessageDest+1 {
		t.Errorf("ACK sequence %#x, want %#x", ack[MessagePositionSeq], MessageDest+1)
	}
}

func TestTransportRejectsCorruptCRC(t *testing.T) {
	called := false
	output := NewScratchOutput()
	transport := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		called = true
		*data = nil
		return nil
	})

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, 3)
	frame := buildTestFrame(MessageDest, scratch.Result())
	frame[len(frame)-MessageTrailerCRC] ^= 0xFF

	transport.Receive(NewSliceInputBuffer(frame))

	if called {
		t.Error("Handler called for frame with bad CRC")
	}

	// The corrupt frame's own trailing sync byte resynchronized the
	// transport, so a following good frame is processed normally.
	good := buildTestFrame(MessageDest, scratch.Result())
	transport.Receive(NewSliceInputBuffer(good))
	if !called {
		t.Error("Handler not called after resync")
	}
}

func TestTransportSequenceMismatch(t *testing.T) {
	called := false
	output := NewScratchOutput()
	transport := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		called = true
		*data = nil
		return nil
	})

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, 3)

	// Sequence 0x13 when 0x10 is expected: frame dropped, NAK sent.
	frame := buildTestFrame(MessageDest|0x03, scratch.Result())
	transport.Receive(NewSliceInputBuffer(frame))

	if called {
		t.Error("Handler called for out-of-sequence frame")
	}
	ack := output.Result()
	if len(ack) != MessageLengthMin || ack[MessagePositionSeq] != MessageDest {
		t.Errorf("Expected NAK carrying %#x, got %v", MessageDest, ack)
	}
}

func TestTransportEncodeFrame(t *testing.T) {
	output := NewScratchOutput()
	transport := NewTransport(output, nil)

	transport.SendCommand(9, func(out OutputBuffer) {
		EncodeVLQInt(out, -125)
	})

	frame := output.Result()
	if len(frame) < MessageLengthMin {
		t.Fatalf("Frame too short: %d bytes", len(frame))
	}
	if int(frame[MessagePositionLen]) != len(frame) {
		t.Errorf("Frame length field %d, want %d", frame[MessagePositionLen], len(frame))
	}
	if frame[len(frame)-1] != MessageValueSync {
		t.Error("Frame missing trailing sync byte")
	}

	crc := CRC16(frame[:len(frame)-MessageTrailerSize])
	gotCRC := uint16(frame[len(frame)-MessageTrailerCRC])<<8 |
		uint16(frame[len(frame)-MessageTrailerCRC+1])
	if crc != gotCRC {
		t.Errorf("Frame CRC %#04x, want %#04x", gotCRC, crc)
	}

	payload := frame[MessageHeaderSize : len(frame)-MessageTrailerSize]
	cmdID, err := DecodeVLQUint(&payload)
	if err != nil || cmdID != 9 {
		t.Errorf("Frame command ID %d (err %v), want 9", cmdID, err)
	}
	value, err := DecodeVLQInt(&payload)
	if err != nil || value != -125 {
		t.Errorf("Frame argument %d (err %v), want -125", value, err)
	}
}

// simulatedMCU pipes host writes through an MCU-side Transport and makes the
// transport's output readable, giving a full loopback link in memory.
type simulatedMCU struct {
	mu        sync.Mutex
	transport *Transport
	out       *ScratchOutput
	readable  chan []byte
	pending   []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newSimulatedMCU(handler CommandHandler) *simulatedMCU {
	m := &simulatedMCU{
		out:      NewScratchOutput(),
		readable: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
	m.transport = NewTransport(m.out, handler)
	return m
}

func (m *simulatedMCU) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport.Receive(NewSliceInputBuffer(p))
	if data := m.out.Result(); len(data) > 0 {
		buf := make([]byte, len(data))
		copy(buf, data)
		m.out.Reset()
		m.readable <- buf
	}
	return len(p), nil
}

func (m *simulatedMCU) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		select {
		case buf := <-m.readable:
			m.pending = buf
		case <-m.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *simulatedMCU) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func TestHostTransportLoopback(t *testing.T) {
	// The MCU answers command 5 with response 6 echoing the argument.
	mcu := newSimulatedMCU(nil)
	mcu.transport.handler = func(cmdID uint16, data *[]byte) error {
		arg, err := DecodeVLQInt(data)
		if err != nil {
			return err
		}
		if cmdID == 5 {
			mcu.transport.SendCommand(6, func(out OutputBuffer) {
				EncodeVLQInt(out, arg)
			})
		}
		return nil
	}

	host := NewHostTransport(mcu)
	defer host.Close()

	responses := make(chan int32, 1)
	host.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
		value, err := DecodeVLQInt(data)
		if err != nil {
			return err
		}
		if cmdID == 6 {
			responses <- value
		}
		return nil
	})

	err := host.SendCommand(5, func(out OutputBuffer) {
		EncodeVLQInt(out, -42)
	})
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	select {
	case value := <-responses:
		if value != -42 {
			t.Errorf("Response value %d, want -42", value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for response")
	}

	// A second command exercises sequence advance on both sides.
	if err := host.SendCommand(5, func(out OutputBuffer) {
		EncodeVLQInt(out, 7)
	}); err != nil {
		t.Fatalf("Second SendCommand failed: %v", err)
	}
	select {
	case value := <-responses:
		if value != 7 {
			t.Errorf("Second response value %d, want 7", value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for second response")
	}
}
