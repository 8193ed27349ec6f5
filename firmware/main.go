//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	uart = machine.UART0

	settle int

	// Conversion timing
	lastReady time.Time
	blink     bool
)

func main() {
	PIN_HX711_SCK.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_HX711_DOUT.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	powerUp()

	for {
		now := time.Now()

		// DOUT goes low when a conversion is ready
		if PIN_HX711_DOUT.Get() {
			if now.Sub(lastReady) > READY_TIMEOUT_MS*time.Millisecond {
				powerUp()
			}
			time.Sleep(500 * time.Microsecond)
			continue
		}
		lastReady = now

		value := readConversion()
		if settle > 0 {
			settle--
			continue
		}

		outputReading(value)
	}
}

// powerUp resets the amplifier by holding SCK high for more than 60us.
func powerUp() {
	PIN_HX711_SCK.High()
	time.Sleep(100 * time.Microsecond)
	PIN_HX711_SCK.Low()

	settle = SETTLE_SAMPLES
	lastReady = time.Now()
}

// readConversion clocks out one 24-bit two's complement sample, MSB first,
// then selects the channel and gain for the next conversion.
func readConversion() int32 {
	var raw uint32
	for range 24 {
		PIN_HX711_SCK.High()
		raw <<= 1
		PIN_HX711_SCK.Low()
		if PIN_HX711_DOUT.Get() {
			raw |= 1
		}
	}

	for range GAIN_PULSES {
		PIN_HX711_SCK.High()
		PIN_HX711_SCK.Low()
	}

	// Sign extend from 24 bits
	if raw&0x800000 != 0 {
		raw |= 0xFF000000
	}
	return int32(raw)
}

func outputReading(value int32) {
	// Output format: "reading\n"
	// Example: "138304\n"
	print(value)
	print("\n")

	blink = !blink
	if blink {
		PIN_LED.High()
	} else {
		PIN_LED.Low()
	}
}
