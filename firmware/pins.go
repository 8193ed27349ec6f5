//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SETTLE_SAMPLES   = 4   // Conversions discarded after power up
	READY_TIMEOUT_MS = 100 // Re-initialize the amplifier if DOUT stays high this long
	GAIN_PULSES      = 1   // Extra SCK pulses: 1 = channel A gain 128, 2 = B/32, 3 = A/64

	// HX711 pins. RATE is tied high on the board for 80 samples/s.
	PIN_HX711_DOUT = machine.D2
	PIN_HX711_SCK  = machine.D3

	PIN_LED = machine.LED

	// Serial configuration
	// Format "reading\n", e.g. "-8388608\n" = 9 bytes max per line
	// 80 lines/sec * 9 bytes/line = 720 bytes/sec
	// UART 8N1: 10 bits/byte = 7,200 baud minimum
	// 115200 provides 16x headroom and matches the host default
	UART_BAUD_RATE = 115200
)
