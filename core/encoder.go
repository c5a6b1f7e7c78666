package core

import (
	"errors"
	"sync"

	"tennisbutler/protocol"
)

// Encoder channel command layer. Each channel pairs one LS7366R chip with an
// oid the host uses to address it, plus an optional polling timer that
// streams counts back without per-read round trips.

// EncoderChannel is one host-visible counter.
type EncoderChannel struct {
	OID       uint8
	Chip      *LS7366R
	Timer     Timer
	RestTicks uint32
	polling   bool
}

var (
	encoderMu       sync.Mutex
	encoderChannels = make(map[uint8]*EncoderChannel)
)

var (
	errOIDInUse     = errors.New("encoder: oid already configured")
	errNoSuchOID    = errors.New("encoder: oid not configured")
	errBadWireWidth = errors.New("encoder: width must be 16 or 32")
)

// InitEncoderCommands registers the encoder command surface.
func InitEncoderCommands() {
	RegisterCommand("config_ls7366r",
		"oid=%c spi_bus=%c cs_pin=%u width=%c scale_ppm=%i wrap_range=%i invert=%c",
		handleConfigLS7366R)
	RegisterCommand("ls7366r_init", "oid=%c", handleLS7366RInit)
	RegisterCommand("query_ls7366r", "oid=%c", handleQueryLS7366R)
	RegisterCommand("ls7366r_zero", "oid=%c", handleLS7366RZero)
	RegisterCommand("query_ls7366r_interval", "oid=%c rest_ticks=%u",
		handleQueryLS7366RInterval)

	RegisterResponse("ls7366r_state", "oid=%c clock=%u value=%i")
}

// channelByOID looks up a configured channel.
func channelByOID(oid uint8) (*EncoderChannel, error) {
	encoderMu.Lock()
	defer encoderMu.Unlock()
	ch, ok := encoderChannels[oid]
	if !ok {
		return nil, errNoSuchOID
	}
	return ch, nil
}

// handleConfigLS7366R creates a channel on a shared SPI bus. The chip is not
// programmed until ls7366r_init.
func handleConfigLS7366R(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	spiBus, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	csPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	wireWidth, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	scalePPM, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	wrapRange, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	invert, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	var width CounterWidth
	switch wireWidth {
	case 16:
		width = Counter16Bit
	case 32:
		width = Counter32Bit
	default:
		return errBadWireWidth
	}

	// scale_ppm is fixed point, parts per million. Zero means unscaled.
	scale := 0.0
	if scalePPM != 0 {
		scale = float64(scalePPM) / 1e6
	}

	// Reject a duplicate oid before touching any hardware, so a bad config
	// command leaves pin state untouched.
	encoderMu.Lock()
	defer encoderMu.Unlock()
	if _, exists := encoderChannels[uint8(oid)]; exists {
		return errOIDInUse
	}

	bus, err := BusForConfig(SPIConfig{
		BusID: SPIBusID(spiBus),
		Mode:  LS7366R_SPI_MODE,
		Rate:  LS7366R_SPI_RATE,
	})
	if err != nil {
		return err
	}

	chip, err := NewLS7366R(bus, LS7366RConfig{
		CSPin:     GPIOPin(csPin),
		Width:     width,
		Scale:     scale,
		WrapRange: wrapRange,
		Invert:    invert != 0,
	})
	if err != nil {
		return err
	}

	ch := &EncoderChannel{OID: uint8(oid), Chip: chip}
	ch.Timer.Handler = ch.pollEvent
	encoderChannels[uint8(oid)] = ch
	return nil
}

// handleLS7366RInit programs the chip operating mode.
func handleLS7366RInit(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	ch, err := channelByOID(uint8(oid))
	if err != nil {
		return err
	}
	return ch.Chip.Initialize()
}

// handleQueryLS7366R reads the counter once and reports it.
func handleQueryLS7366R(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	ch, err := channelByOID(uint8(oid))
	if err != nil {
		return err
	}
	value, err := ch.Chip.Read()
	if err != nil {
		return err
	}
	ch.sendState(value)
	return nil
}

// handleLS7366RZero clears the hardware counter.
func handleLS7366RZero(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	ch, err := channelByOID(uint8(oid))
	if err != nil {
		return err
	}
	return ch.Chip.Zero()
}

// handleQueryLS7366RInterval starts periodic reporting every rest_ticks
// clock ticks. rest_ticks of zero stops it.
func handleQueryLS7366RInterval(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	ch, err := channelByOID(uint8(oid))
	if err != nil {
		return err
	}

	encoderMu.Lock()
	defer encoderMu.Unlock()

	if ch.polling {
		CancelTimer(&ch.Timer)
		ch.polling = false
	}
	if restTicks == 0 {
		return nil
	}
	if !ch.Chip.initialized {
		return ErrNotInitialized
	}

	ch.RestTicks = restTicks
	ch.Timer.WakeTime = GetTime() + restTicks
	ScheduleTimer(&ch.Timer)
	ch.polling = true
	return nil
}

// pollEvent is the timer handler for periodic reporting. A failed read stops
// the stream rather than flooding the host with garbage.
func (ch *EncoderChannel) pollEvent(t *Timer) uint8 {
	value, err := ch.Chip.Read()
	if err != nil {
		ch.polling = false
		return SF_DONE
	}
	ch.sendState(value)
	t.WakeTime += ch.RestTicks
	return SF_RESCHEDULE
}

// sendState emits an ls7366r_state response stamped with the current clock.
func (ch *EncoderChannel) sendState(value int32) {
	clock := GetTime()
	SendResponse("ls7366r_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(ch.OID))
		protocol.EncodeVLQUint(output, clock)
		protocol.EncodeVLQInt(output, value)
	})
}
