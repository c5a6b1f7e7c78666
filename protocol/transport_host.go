package protocol

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ResponseHandler is called for each response message received from the MCU.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the link: it sends command frames, waits
// for the MCU's ACK, and feeds response messages to a handler from a
// background read loop.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq uint32 // sequence for the next command (0x10-0x1F), atomic

	writeMu sync.Mutex

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	ackChan chan uint8 // sequence byte carried by each ACK

	stopChan chan struct{}
	doneChan chan struct{}
	closed   uint32 // atomic bool
}

// NewHostTransport starts a host transport over port and begins reading.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:       port,
		currentSeq: MessageDest,
		ackChan:    make(chan uint8, 4),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SetResponseHandler registers the callback for response messages.
func (t *HostTransport) SetResponseHandler(h ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = h
	t.handlerMu.Unlock()
}

// Close stops the read loop and closes the port.
func (t *HostTransport) Close() error {
	if !atomic.CompareAndSwapUint32(&t.closed, 0, 1) {
		return nil
	}
	close(t.stopChan)
	err := t.port.Close()
	<-t.doneChan
	return err
}

// SendCommand sends one command and waits for the MCU to acknowledge it.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends one command with an explicit ACK timeout.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	msg := buildFrame(seq, cmdID, args)
	if msg == nil {
		return fmt.Errorf("command %d: message exceeds %d bytes", cmdID, MessageLengthMax)
	}

	// Drain stale ACKs from a previous timeout before sending.
drain:
	for {
		select {
		case <-t.ackChan:
		default:
			break drain
		}
	}

	if _, err := t.port.Write(msg); err != nil {
		return fmt.Errorf("write command %d: %w", cmdID, err)
	}

	wantSeq := ((seq + 1) & MessageSeqMask) | MessageDest
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case ackSeq := <-t.ackChan:
		if ackSeq == wantSeq {
			atomic.StoreUint32(&t.currentSeq, uint32(wantSeq))
			return nil
		}
		// NAK: the MCU reports the sequence it expects; resend from there
		// on the next call.
		atomic.StoreUint32(&t.currentSeq, uint32(ackSeq))
		return fmt.Errorf("command %d: MCU expects sequence %#x, sent %#x", cmdID, ackSeq, seq)
	case <-deadline.C:
		return fmt.Errorf("command %d: ACK timeout after %v", cmdID, timeout)
	case <-t.stopChan:
		return fmt.Errorf("command %d: transport closed", cmdID)
	}
}

// buildFrame assembles <len><seq><cmdID><args...><crc16><sync>. Returns nil
// if the encoded message would exceed the frame size limit.
func buildFrame(seq uint8, cmdID uint16, args func(output OutputBuffer)) []byte {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()

	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return nil
	}

	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)
	crc := CRC16(msg)
	msg = append(msg, uint8(crc>>8), uint8(crc&0xFF), MessageValueSync)
	return msg
}

// readLoop reads from the port, reassembles frames, and routes ACKs and
// responses.
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	fifo := NewFifoBuffer(4096)
	chunk := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(chunk)
		if err != nil {
			if atomic.LoadUint32(&t.closed) != 0 {
				return
			}
			// Serial read timeouts surface as errors on some platforms;
			// keep polling until closed.
			time.Sleep(time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		fifo.Write(chunk[:n])
		t.parseFrames(fifo)
	}
}

// parseFrames consumes complete frames from the FIFO.
func (t *HostTransport) parseFrames(fifo *FifoBuffer) {
	for {
		data := fifo.Data()

		// Skip leading sync bytes.
		skip := 0
		for skip < len(data) && data[skip] == MessageValueSync {
			skip++
		}
		if skip > 0 {
			fifo.Pop(skip)
			continue
		}

		if len(data) < MessageLengthMin {
			return
		}

		msgLen := int(data[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			// Garbage byte; resync by discarding through the next sync.
			t.discardToSync(fifo, data)
			continue
		}
		if len(data) < msgLen {
			return
		}

		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			t.discardToSync(fifo, data)
			continue
		}

		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			t.discardToSync(fifo, data)
			continue
		}

		seq := data[MessagePositionSeq]
		payload := make([]byte, msgLen-MessageLengthMin)
		copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		fifo.Pop(msgLen)

		if len(payload) == 0 {
			// Bare frame: an ACK/NAK carrying the MCU's next expected
			// sequence.
			select {
			case t.ackChan <- seq:
			default:
			}
			continue
		}

		t.dispatchResponses(payload)
	}
}

// dispatchResponses unpacks each response message in one frame payload.
func (t *HostTransport) dispatchResponses(payload []byte) {
	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()

	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			return
		}
		if handler == nil {
			return
		}
		if err := handler(uint16(cmdID), &payload); err != nil {
			return
		}
	}
}

// discardToSync drops bytes through the next sync byte (or everything, if
// none is buffered yet).
func (t *HostTransport) discardToSync(fifo *FifoBuffer, data []byte) {
	for i, b := range data {
		if b == MessageValueSync {
			fifo.Pop(i + 1)
			return
		}
	}
	fifo.Pop(len(data))
}
