package protocol

import (
	"testing"
)

func TestVLQEncodeDecodeInt(t *testing.T) {
	testCases := []int32{
		0,
		1,
		-1,
		31,
		-32,
		127,
		-127,
		128,
		-128,
		300,
		-300,
		65535,
		-65535,
		1000000,
		-1000000,
		2147483647,
		-2147483648,
	}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, expected)
		encoded := output.Result()

		data := encoded
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}

		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d (encoded as %v)", expected, decoded, encoded)
		}

		if len(data) != 0 {
			t.Errorf("VLQ decode left %d bytes for value %d", len(data), expected)
		}
	}
}

func TestVLQEncodeDecodeUint(t *testing.T) {
	testCases := []uint32{
		0,
		1,
		95,
		96,
		255,
		4000000,
		4294967295,
	}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQUint(output, expected)
		encoded := output.Result()

		data := encoded
		decoded, err := DecodeVLQUint(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}

		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d (encoded as %v)", expected, decoded, encoded)
		}
	}
}

func TestVLQSingleByteRange(t *testing.T) {
	// Values in [-32, 96) fit one byte; the encoder must not waste
	// continuation bytes on them.
	for _, v := range []int32{-32, -1, 0, 1, 95} {
		output := NewScratchOutput()
		EncodeVLQInt(output, v)
		if n := len(output.Result()); n != 1 {
			t.Errorf("Value %d encoded in %d bytes, want 1", v, n)
		}
	}

	for _, v := range []int32{-33, 96} {
		output := NewScratchOutput()
		EncodeVLQInt(output, v)
		if n := len(output.Result()); n != 2 {
			t.Errorf("Value %d encoded in %d bytes, want 2", v, n)
		}
	}
}

func TestVLQDecodeTruncated(t *testing.T) {
	// A continuation byte with nothing after it must fail cleanly.
	data := []byte{0x81}
	if _, err := DecodeVLQInt(&data); err == nil {
		t.Error("Expected error decoding truncated VLQ")
	}

	var empty []byte
	if _, err := DecodeVLQInt(&empty); err == nil {
		t.Error("Expected error decoding empty buffer")
	}
}

func TestVLQBytes(t *testing.T) {
	testCases := [][]byte{
		{},
		{0x01},
		{0x60, 0x00, 0x00, 0x01, 0x2C},
		make([]byte, 50),
	}

	for i, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQBytes(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQBytes(&data)
		if err != nil {
			t.Errorf("Test case %d: decode failed: %v", i, err)
			continue
		}

		if len(decoded) != len(expected) {
			t.Errorf("Test case %d: length mismatch: expected %d, got %d", i, len(expected), len(decoded))
			continue
		}
		for j := range expected {
			if decoded[j] != expected[j] {
				t.Errorf("Test case %d: byte %d: expected %#x, got %#x", i, j, expected[j], decoded[j])
			}
		}
	}
}

func TestVLQBytesShortBuffer(t *testing.T) {
	// Length prefix claims more data than is present.
	data := []byte{0x05, 0x01, 0x02}
	if _, err := DecodeVLQBytes(&data); err == nil {
		t.Error("Expected error for truncated byte array")
	}
}
