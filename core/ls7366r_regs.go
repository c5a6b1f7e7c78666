package core

// LS7366R Register Definitions
// Based on the LSI/CSI LS7366R datasheet
// 32-bit quadrature counter with serial interface

// The instruction byte is op (B7-B6) | register (B5-B3). B2-B0 are unused.
const (
	// Clear register (op 00)
	LS7366R_CLR_MDR0 = 0x08
	LS7366R_CLR_MDR1 = 0x10
	LS7366R_CLR_CNTR = 0x20
	LS7366R_CLR_STR  = 0x30

	// Read register (op 01)
	LS7366R_RD_MDR0 = 0x48
	LS7366R_RD_MDR1 = 0x50
	LS7366R_RD_CNTR = 0x60 // transfers CNTR to OTR, then reads OTR
	LS7366R_RD_OTR  = 0x68
	LS7366R_RD_STR  = 0x70

	// Write register (op 10)
	LS7366R_WR_MDR0 = 0x88
	LS7366R_WR_MDR1 = 0x90
	LS7366R_WR_DTR  = 0x98

	// Load register (op 11)
	LS7366R_LOAD_CNTR = 0xE0 // transfers DTR to CNTR
	LS7366R_LOAD_OTR  = 0xE8 // transfers CNTR to OTR
)

// MDR0 Register Bit Definitions
const (
	// B1-B0: quadrature mode
	LS7366R_MDR0_NON_QUAD = 0x00 // A = clock, B = direction
	LS7366R_MDR0_QUAD_X1  = 0x01 // one count per quadrature cycle
	LS7366R_MDR0_QUAD_X2  = 0x02 // two counts per cycle
	LS7366R_MDR0_QUAD_X4  = 0x03 // four counts per cycle

	// B3-B2: count mode
	LS7366R_MDR0_FREE_RUN     = 0x00
	LS7366R_MDR0_SINGLE_CYCLE = 0x04 // counting disabled on carry/borrow
	LS7366R_MDR0_RANGE_LIMIT  = 0x08 // count clamped between DTR and zero
	LS7366R_MDR0_MODULO_N     = 0x0C // count wraps at DTR

	// B5-B4: index input function
	LS7366R_MDR0_IDX_DISABLE    = 0x00
	LS7366R_MDR0_IDX_LOAD_CNTR  = 0x10 // index loads CNTR from DTR
	LS7366R_MDR0_IDX_RESET_CNTR = 0x20 // index clears CNTR
	LS7366R_MDR0_IDX_LOAD_OTR   = 0x30 // index latches CNTR into OTR

	// B6: index sync (0 = asynchronous)
	LS7366R_MDR0_IDX_SYNC = 0x40

	// B7: filter clock division (0 = /1)
	LS7366R_MDR0_FILTER_DIV2 = 0x80
)

// MDR1 Register Bit Definitions
const (
	// B1-B0: counter size, doubles as the byte count of a CNTR read
	LS7366R_MDR1_CNT_4BYTE = 0x00
	LS7366R_MDR1_CNT_3BYTE = 0x01
	LS7366R_MDR1_CNT_2BYTE = 0x02
	LS7366R_MDR1_CNT_1BYTE = 0x03

	// B2: disable counting
	LS7366R_MDR1_CNT_DISABLE = 0x04

	// B7-B4: flag output enables
	LS7366R_MDR1_FLAG_IDX = 0x10
	LS7366R_MDR1_FLAG_CMP = 0x20
	LS7366R_MDR1_FLAG_BW  = 0x40
	LS7366R_MDR1_FLAG_CY  = 0x80
)

// STR (Status Register) Bit Definitions
const (
	LS7366R_STR_S   = 0x01 // sign of last count
	LS7366R_STR_UD  = 0x02 // count direction (1 = up)
	LS7366R_STR_PLS = 0x04 // power loss latch
	LS7366R_STR_CEN = 0x08 // counting enabled
	LS7366R_STR_IDX = 0x10 // index latch
	LS7366R_STR_CMP = 0x20 // compare (CNTR == DTR) latch
	LS7366R_STR_BW  = 0x40 // borrow latch
	LS7366R_STR_CY  = 0x80 // carry latch
)

// SPI Access
// The datasheet specifies a 240ns minimum SCLK period (about 4.16MHz); the
// bus runs mode 0, MSB first.
const (
	LS7366R_SPI_MODE SPIMode = 0
	LS7366R_SPI_RATE uint32  = 4000000
)
