// Package link implements the host side of the encoder interface protocol:
// connection setup, dictionary retrieval, and typed wrappers around the
// firmware commands.
package link

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"tennisbutler/host/serial"
	"tennisbutler/protocol"
)

// Dictionary is the parsed MCU data dictionary.
type Dictionary struct {
	Version   string            `json:"version"`
	MCU       string            `json:"mcu"`
	Config    map[string]string `json:"config"`
	Commands  map[string]int    `json:"commands"`
	Responses map[string]int    `json:"responses"`
}

// State is one decoded ls7366r_state response.
type State struct {
	OID   uint8
	Clock uint32
	Value int32
}

type identifyChunk struct {
	offset uint32
	data   []byte
}

// Conn is a connection to one encoder interface MCU.
type Conn struct {
	port      serial.Port
	transport *protocol.HostTransport

	// dictMu guards the fields learned from the dictionary: handleResponse
	// reads them on the transport read loop while RetrieveDictionary writes
	// them on the caller's goroutine.
	dictMu    sync.RWMutex
	dict      *Dictionary
	commands  map[string]int    // bare command name -> ID
	responses map[uint16]string // ID -> bare response name
	clockFreq uint32

	identifyCh chan identifyChunk
	states     chan State
}

// Connect opens the device and starts the transport. The dictionary is not
// retrieved yet; call RetrieveDictionary before using named commands.
func Connect(device string) (*Conn, error) {
	return ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects with a custom serial configuration.
func ConnectWithConfig(cfg *serial.Config) (*Conn, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	c := NewConn(port)

	// Let a freshly reset MCU finish booting before the first frame.
	time.Sleep(100 * time.Millisecond)
	return c, nil
}

// NewConn wraps an already-open port.
func NewConn(port serial.Port) *Conn {
	c := &Conn{
		port:       port,
		transport:  protocol.NewHostTransport(port),
		identifyCh: make(chan identifyChunk, 4),
		states:     make(chan State, 64),
	}
	c.transport.SetResponseHandler(c.handleResponse)
	return c
}

// Close shuts down the transport and the serial port.
func (c *Conn) Close() error {
	return c.transport.Close()
}

// Dictionary returns the parsed dictionary, or nil before retrieval.
func (c *Conn) Dictionary() *Dictionary {
	c.dictMu.RLock()
	defer c.dictMu.RUnlock()
	return c.dict
}

// States returns the channel of streamed counter reports. Slow consumers
// lose reports rather than stalling the read loop.
func (c *Conn) States() <-chan State {
	return c.states
}

// ClockFreq returns the MCU tick rate learned from the dictionary.
func (c *Conn) ClockFreq() uint32 {
	c.dictMu.RLock()
	defer c.dictMu.RUnlock()
	return c.clockFreq
}

// handleResponse runs on the transport read loop. Only the bootstrap
// identify_response ID is known before the dictionary arrives.
func (c *Conn) handleResponse(cmdID uint16, data *[]byte) error {
	c.dictMu.RLock()
	name := c.responses[cmdID]
	c.dictMu.RUnlock()
	if name == "" && cmdID == 0 {
		name = "identify_response"
	}

	switch name {
	case "identify_response":
		offset, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		chunk, err := protocol.DecodeVLQBytes(data)
		if err != nil {
			return err
		}
		select {
		case c.identifyCh <- identifyChunk{offset, chunk}:
		default:
		}
	case "ls7366r_state":
		oid, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		clock, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		value, err := protocol.DecodeVLQInt(data)
		if err != nil {
			return err
		}
		select {
		case c.states <- State{OID: uint8(oid), Clock: clock, Value: value}:
		default:
		}
	default:
		// Unknown responses are skipped; without the format string the
		// remaining payload cannot be walked, so drop the rest of it.
		*data = nil
	}
	return nil
}

// RetrieveDictionary fetches the dictionary in identify chunks and parses it.
func (c *Conn) RetrieveDictionary() error {
	const chunkSize = 40

	var buf bytes.Buffer
	offset := uint32(0)
	for i := 0; i < 1000; i++ {
		chunk, err := c.sendIdentify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", offset, err)
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < chunkSize {
			return c.parseDictionary(buf.Bytes())
		}
	}
	return fmt.Errorf("dictionary did not terminate after %d bytes", offset)
}

// sendIdentify requests one dictionary chunk. identify is ID 1 by protocol
// bootstrap convention.
func (c *Conn) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := c.transport.SendCommand(1, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(time.Second)
	defer deadline.Stop()
	for {
		select {
		case chunk := <-c.identifyCh:
			if chunk.offset != offset {
				continue // stale retransmit
			}
			return chunk.data, nil
		case <-deadline.C:
			return nil, fmt.Errorf("identify response timeout")
		}
	}
}

// parseDictionary decodes the JSON and builds the name lookup tables. The
// dictionary keys are "name arg=%t ...", so only the leading word names the
// message.
func (c *Conn) parseDictionary(data []byte) error {
	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}

	commands := make(map[string]int, len(dict.Commands))
	for format, id := range dict.Commands {
		name, _, _ := strings.Cut(format, " ")
		commands[name] = id
	}
	responses := make(map[uint16]string, len(dict.Responses))
	for format, id := range dict.Responses {
		name, _, _ := strings.Cut(format, " ")
		responses[uint16(id)] = name
	}

	clockFreq := uint32(0)
	if freq, ok := dict.Config["CLOCK_FREQ"]; ok {
		f, err := strconv.ParseUint(freq, 10, 32)
		if err != nil {
			return fmt.Errorf("bad CLOCK_FREQ %q: %w", freq, err)
		}
		clockFreq = uint32(f)
	}

	c.dictMu.Lock()
	c.dict = dict
	c.commands = commands
	c.responses = responses
	c.clockFreq = clockFreq
	c.dictMu.Unlock()
	return nil
}

// sendNamed sends a command looked up by name in the dictionary.
func (c *Conn) sendNamed(name string, args func(output protocol.OutputBuffer)) error {
	c.dictMu.RLock()
	commands := c.commands
	c.dictMu.RUnlock()
	if commands == nil {
		return fmt.Errorf("dictionary not retrieved")
	}
	id, ok := commands[name]
	if !ok {
		return fmt.Errorf("MCU does not support %s", name)
	}
	return c.transport.SendCommand(uint16(id), args)
}

// ChannelConfig mirrors the config_ls7366r command arguments.
type ChannelConfig struct {
	OID    uint8
	SPIBus uint8
	CSPin  uint32
	Width  int // 16 or 32

	Scale     float64 // 0 means unscaled
	WrapRange int32
	Invert    bool
}

// ConfigureChannel creates an encoder channel on the MCU.
func (c *Conn) ConfigureChannel(cfg ChannelConfig) error {
	if cfg.Width != 16 && cfg.Width != 32 {
		return fmt.Errorf("width must be 16 or 32, got %d", cfg.Width)
	}
	scalePPM := int32(math.Round(cfg.Scale * 1e6))
	invert := uint32(0)
	if cfg.Invert {
		invert = 1
	}
	return c.sendNamed("config_ls7366r", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(cfg.OID))
		protocol.EncodeVLQUint(o, uint32(cfg.SPIBus))
		protocol.EncodeVLQUint(o, cfg.CSPin)
		protocol.EncodeVLQUint(o, uint32(cfg.Width))
		protocol.EncodeVLQInt(o, scalePPM)
		protocol.EncodeVLQInt(o, cfg.WrapRange)
		protocol.EncodeVLQUint(o, invert)
	})
}

// InitChannel programs the chip operating mode.
func (c *Conn) InitChannel(oid uint8) error {
	return c.sendNamed("ls7366r_init", oidArgs(oid))
}

// ZeroChannel clears the hardware counter.
func (c *Conn) ZeroChannel(oid uint8) error {
	return c.sendNamed("ls7366r_zero", oidArgs(oid))
}

// QueryChannel reads the counter once and waits for the report.
func (c *Conn) QueryChannel(oid uint8) (State, error) {
	if err := c.sendNamed("query_ls7366r", oidArgs(oid)); err != nil {
		return State{}, err
	}

	deadline := time.NewTimer(time.Second)
	defer deadline.Stop()
	for {
		select {
		case st := <-c.states:
			if st.OID != oid {
				continue
			}
			return st, nil
		case <-deadline.C:
			return State{}, fmt.Errorf("no state report for oid %d", oid)
		}
	}
}

// StartPolling asks the MCU to stream counter reports every interval.
func (c *Conn) StartPolling(oid uint8, interval time.Duration) error {
	clockFreq := c.ClockFreq()
	if clockFreq == 0 {
		return fmt.Errorf("MCU clock frequency unknown")
	}
	restTicks := uint32(interval.Seconds() * float64(clockFreq))
	if restTicks == 0 {
		return fmt.Errorf("interval %v is below one MCU tick", interval)
	}
	return c.sendNamed("query_ls7366r_interval", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(oid))
		protocol.EncodeVLQUint(o, restTicks)
	})
}

// StopPolling stops the stream for one channel.
func (c *Conn) StopPolling(oid uint8) error {
	return c.sendNamed("query_ls7366r_interval", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(oid))
		protocol.EncodeVLQUint(o, 0)
	})
}

func oidArgs(oid uint8) func(o protocol.OutputBuffer) {
	return func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(oid))
	}
}
