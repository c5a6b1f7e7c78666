package core

import (
	"encoding/json"
	"os"
	"testing"

	"tennisbutler/protocol"
)

// Registration order is the wire protocol, so every test sees the same
// registry built once, the way a target main would build it.
func TestMain(m *testing.M) {
	InitCoreCommands()
	InitEncoderCommands()
	os.Exit(m.Run())
}

func TestBootstrapCommandIDs(t *testing.T) {
	resp, ok := GetGlobalRegistry().GetCommandByName("identify_response")
	if !ok || resp.ID != 0 {
		t.Fatalf("identify_response ID = %v, want 0", resp)
	}
	ident, ok := GetGlobalRegistry().GetCommandByName("identify")
	if !ok || ident.ID != 1 {
		t.Fatalf("identify ID = %v, want 1", ident)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	first := RegisterCommand("identify", "offset=%u count=%c", handleIdentify)
	second := RegisterCommand("identify", "offset=%u count=%c", handleIdentify)
	if first != second {
		t.Errorf("re-registration changed ID: %d then %d", first, second)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	data := []byte{}
	if err := DispatchCommand(0xFFF0, &data); err == nil {
		t.Error("dispatching unknown command ID succeeded")
	}
}

func TestDispatchResponseFails(t *testing.T) {
	resp, _ := GetGlobalRegistry().GetCommandByName("ls7366r_state")
	data := []byte{}
	if err := DispatchCommand(resp.ID, &data); err == nil {
		t.Error("dispatching a response message succeeded")
	}
}

type dictJSON struct {
	Version   string            `json:"version"`
	MCU       string            `json:"mcu"`
	Config    map[string]string `json:"config"`
	Commands  map[string]int    `json:"commands"`
	Responses map[string]int    `json:"responses"`
}

func TestDictionaryJSON(t *testing.T) {
	d := NewDictionary(globalRegistry)
	d.AddConstant("CLOCK_FREQ", uint32(ClockFreq))
	d.AddConstant("MCU", "rp2040")
	d.BuildDictionary()

	var parsed dictJSON
	if err := json.Unmarshal(d.Generate(), &parsed); err != nil {
		t.Fatalf("dictionary is not valid JSON: %v\n%s", err, d.Generate())
	}

	if parsed.Config["CLOCK_FREQ"] != "1000000" {
		t.Errorf("CLOCK_FREQ = %q, want 1000000", parsed.Config["CLOCK_FREQ"])
	}
	if id, ok := parsed.Responses["identify_response offset=%u data=%*s"]; !ok || id != 0 {
		t.Errorf("identify_response entry = %d (%v), want 0", id, ok)
	}
	if id, ok := parsed.Commands["identify offset=%u count=%c"]; !ok || id != 1 {
		t.Errorf("identify entry = %d (%v), want 1", id, ok)
	}
	if _, ok := parsed.Commands["config_ls7366r oid=%c spi_bus=%c cs_pin=%u width=%c scale_ppm=%i wrap_range=%i invert=%c"]; !ok {
		t.Error("config_ls7366r missing from commands")
	}
	if _, ok := parsed.Responses["ls7366r_state oid=%c clock=%u value=%i"]; !ok {
		t.Error("ls7366r_state missing from responses")
	}
}

func TestDictionaryChunking(t *testing.T) {
	d := NewDictionary(globalRegistry)
	d.BuildDictionary()
	full := d.Generate()

	var rebuilt []byte
	for offset := uint32(0); ; {
		chunk := d.GetChunk(offset, 40)
		if len(chunk) == 0 {
			break
		}
		rebuilt = append(rebuilt, chunk...)
		offset += uint32(len(chunk))
	}
	if string(rebuilt) != string(full) {
		t.Error("chunked reads do not reassemble the dictionary")
	}

	if got := d.GetChunk(uint32(len(full))+10, 40); len(got) != 0 {
		t.Errorf("chunk past end returned %d bytes", len(got))
	}
}

// captureTransport points the global transport at a fresh scratch buffer.
func captureTransport() *protocol.ScratchOutput {
	output := protocol.NewScratchOutput()
	SetGlobalTransport(protocol.NewTransport(output, func(cmdID uint16, data *[]byte) error {
		return DispatchCommand(cmdID, data)
	}))
	return output
}

// parseResponse decodes the first frame in data addressed to wantName and
// returns its payload after the command ID.
func parseResponse(t *testing.T, data []byte, wantName string) []byte {
	t.Helper()
	want, ok := GetGlobalRegistry().GetCommandByName(wantName)
	if !ok {
		t.Fatalf("%s not registered", wantName)
	}
	for len(data) >= protocol.MessageLengthMin {
		msgLen := int(data[0])
		if msgLen < protocol.MessageLengthMin || msgLen > len(data) {
			t.Fatalf("malformed frame: len byte %d", msgLen)
		}
		frame := data[protocol.MessageHeaderSize : msgLen-protocol.MessageTrailerSize]
		data = data[msgLen:]

		cmdID, err := protocol.DecodeVLQUint(&frame)
		if err != nil {
			t.Fatalf("decode command ID: %v", err)
		}
		if uint16(cmdID) == want.ID {
			return frame
		}
	}
	t.Fatalf("no %s frame in output", wantName)
	return nil
}

func TestIdentifyReturnsDictionaryChunk(t *testing.T) {
	output := captureTransport()
	GetGlobalDictionary().BuildDictionary()

	args := encodeArgs(func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 0)  // offset
		protocol.EncodeVLQUint(o, 40) // count
	})
	if err := handleIdentify(&args); err != nil {
		t.Fatalf("identify: %v", err)
	}

	payload := parseResponse(t, output.Result(), "identify_response")
	offset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		t.Fatalf("decode offset: %v", err)
	}
	chunk, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if offset != 0 {
		t.Errorf("offset = %d, want 0", offset)
	}
	if len(chunk) != 40 {
		t.Errorf("chunk length = %d, want 40", len(chunk))
	}
	if string(chunk[:12]) != `{"version":"` {
		t.Errorf("chunk starts %q, want dictionary JSON", chunk[:12])
	}
}

func TestGetClock(t *testing.T) {
	output := captureTransport()
	SetTime(123456)

	data := []byte{}
	if err := handleGetClock(&data); err != nil {
		t.Fatalf("get_clock: %v", err)
	}

	payload := parseResponse(t, output.Result(), "clock")
	clock, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		t.Fatalf("decode clock: %v", err)
	}
	if clock != 123456 {
		t.Errorf("clock = %d, want 123456", clock)
	}
}

func TestGetUptimeCountsWraps(t *testing.T) {
	output := captureTransport()
	SetTime(5000)
	SetTime(100) // timer wrapped

	data := []byte{}
	if err := handleGetUptime(&data); err != nil {
		t.Fatalf("get_uptime: %v", err)
	}

	payload := parseResponse(t, output.Result(), "uptime")
	high, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		t.Fatalf("decode high: %v", err)
	}
	low, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		t.Fatalf("decode low: %v", err)
	}
	if high == 0 {
		t.Error("wrap not reflected in uptime high word")
	}
	if low != 100 {
		t.Errorf("low = %d, want 100", low)
	}
}
