package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/usbscale/pkg/config"
	"github.com/itohio/usbscale/pkg/meter"
)

const consoleInterval = 250 * time.Millisecond

var errUnknownCommand = errors.New("unknown command")

const consoleHelp = `Commands:
  connect            connect to the sensor
  disconnect         disconnect from the sensor
  tare               zero the scale at the current load
  calibrate [load]   calibrate with a known load (default from config)
  status             print the current reading
  quit               exit
`

// console drives the meter from line commands and prints readings.
type console struct {
	m   *meter.Meter
	cfg *config.Config

	mu  sync.Mutex
	out io.Writer

	throttle throttle
}

func newConsole(m *meter.Meter, cfg *config.Config, out io.Writer) *console {
	c := &console{
		m:        m,
		cfg:      cfg,
		out:      out,
		throttle: throttle{interval: consoleInterval},
	}
	m.OnUpdate(func(u meter.Update) {
		if c.throttle.allow(u) {
			c.print(u)
		}
	})
	return c
}

// run executes commands from in until quit, end of input or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("%s", consoleHelp)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.execute(line)
			if err != nil {
				c.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// execute runs a single command line.
func (c *console) execute(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "connect", "c":
		return false, c.m.Connect()
	case "disconnect", "d":
		return false, c.m.Disconnect()
	case "tare", "t":
		return false, c.m.Tare()
	case "calibrate", "cal":
		ref := c.cfg.Calibration.Reference
		if len(fields) > 1 {
			ref, err = strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return false, fmt.Errorf("invalid load %q: %w", fields[1], err)
			}
		}
		return false, c.m.Calibrate(ref)
	case "status", "s":
		c.print(c.m.Snapshot())
		return false, nil
	case "help", "h", "?":
		c.printf("%s", consoleHelp)
		return false, nil
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", errUnknownCommand, fields[0])
	}
}

// notice prints an operator message.
func (c *console) notice(msg string) {
	c.printf("%s\n", msg)
}

func (c *console) print(u meter.Update) {
	if u.Status != "" {
		c.printf("%-10s [%s] %s\n", u.Text, u.State, u.Status)
		return
	}
	c.printf("%-10s [%s]\n", u.Text, u.State)
}

func (c *console) printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, a...)
}
