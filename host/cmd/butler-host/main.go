// butler-host connects to the encoder interface MCU, configures an LS7366R
// channel, and prints counter readings.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"tennisbutler/host/link"
	"tennisbutler/host/serial"
)

var (
	device   = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud     = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	spiBus   = flag.Int("spi-bus", 0, "MCU SPI bus number")
	csPin    = flag.Int("cs-pin", 17, "Chip-select GPIO pin")
	width    = flag.Int("width", 32, "Counter width in bits (16 or 32)")
	scale    = flag.Float64("scale", 0, "Count scale factor (0 = unscaled)")
	wrap     = flag.Int("wrap", 0, "Wrap range (0 = no wrapping)")
	invert   = flag.Bool("invert", false, "Invert the count direction")
	interval = flag.Duration("interval", 250*time.Millisecond, "Polling interval (0 = single read)")
	zero     = flag.Bool("zero", false, "Zero the counter before reading")
)

func main() {
	flag.Parse()

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud

	fmt.Printf("Connecting to %s...\n", *device)
	conn, err := link.ConnectWithConfig(cfg)
	if err != nil {
		fatal("connect: %v", err)
	}
	defer conn.Close()

	if err := conn.RetrieveDictionary(); err != nil {
		fatal("retrieve dictionary: %v", err)
	}
	dict := conn.Dictionary()
	fmt.Printf("Connected to %s (%s), %d commands\n",
		dict.Version, dict.MCU, len(dict.Commands))

	const oid = 1
	err = conn.ConfigureChannel(link.ChannelConfig{
		OID:       oid,
		SPIBus:    uint8(*spiBus),
		CSPin:     uint32(*csPin),
		Width:     *width,
		Scale:     *scale,
		WrapRange: int32(*wrap),
		Invert:    *invert,
	})
	if err != nil {
		fatal("configure channel: %v", err)
	}
	if err := conn.InitChannel(oid); err != nil {
		fatal("initialize channel: %v", err)
	}
	if *zero {
		if err := conn.ZeroChannel(oid); err != nil {
			fatal("zero channel: %v", err)
		}
		fmt.Println("Counter zeroed")
	}

	if *interval <= 0 {
		st, err := conn.QueryChannel(oid)
		if err != nil {
			fatal("query channel: %v", err)
		}
		fmt.Printf("count=%d (clock=%d)\n", st.Value, st.Clock)
		return
	}

	if err := conn.StartPolling(oid, *interval); err != nil {
		fatal("start polling: %v", err)
	}
	fmt.Printf("Polling every %v, Ctrl-C to stop\n", *interval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	for {
		select {
		case st := <-conn.States():
			fmt.Printf("count=%d (clock=%d)\n", st.Value, st.Clock)
		case <-sig:
			fmt.Println("\nStopping...")
			if err := conn.StopPolling(oid); err != nil {
				fmt.Fprintf(os.Stderr, "stop polling: %v\n", err)
			}
			return
		}
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
