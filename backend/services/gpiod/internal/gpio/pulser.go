// Package gpio drives output lines through the board's command-line tools.
// The gateway shells out instead of linking a GPIO library: the hardware-timed
// release of libgpiod's gpioset survives a crash of this process mid-pulse,
// which an in-process timer cannot guarantee.
package gpio

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	// gpiochip0 covers lines 0..57 on current Raspberry Pi boards.
	MinPin = 0
	MaxPin = 57

	// Pulse bounds: long enough to be electrically meaningful, short enough
	// that a corrupt request cannot hold a valve open for minutes.
	MinDurationMs = 20
	MaxDurationMs = 60_000

	DefaultPin        = 17
	DefaultDurationMs = 2000
	DefaultChip       = "gpiochip0"
)

// PermissionHint is returned with every failure; the overwhelmingly common
// field problem is the service user missing the gpio group.
const PermissionHint = "If permission denied: add user to gpio group (sudo usermod -aG gpio <user> then relog). " +
	"Also verify chip name (gpiochip0) and BCM pin number."

// Runner executes one external command. ctx carries the overall deadline.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) error
}

// Request is a normalized trigger. Build it with Normalize; the zero value
// is not meaningful.
type Request struct {
	Pin        int
	DurationMs int64
	Value      int
	Hold       bool
}

// Normalize applies the defaults and safety clamps. nil fields mean "omitted
// from the request body".
func Normalize(pin *int, durationMs *int64, value *int, hold bool) Request {
	req := Request{Pin: DefaultPin, DurationMs: DefaultDurationMs, Value: 1, Hold: hold}
	if pin != nil {
		req.Pin = clampInt(*pin, MinPin, MaxPin)
	}
	if durationMs != nil {
		req.DurationMs = clampInt64(*durationMs, MinDurationMs, MaxDurationMs)
	}
	if value != nil && (*value == 0 || *value == 1) {
		req.Value = *value
	}
	return req
}

// Result describes what the gateway actually did.
type Result struct {
	Method     string `json:"method,omitempty"`
	Chip       string `json:"chip,omitempty"`
	Pin        int    `json:"pin"`
	Value      int    `json:"value"`
	DurationMs int64  `json:"durationMs"`
	TimeArg    string `json:"timeArg,omitempty"`
	Mocked     bool   `json:"mocked,omitempty"`
	Held       bool   `json:"held,omitempty"`
}

// Pulser executes trigger requests against the board.
type Pulser struct {
	chip     string
	simulate bool
	runner   Runner
	logger   *zap.Logger
}

// NewPulser builds a pulser. simulate forces mock mode; off-linux hosts mock
// regardless so the rest of the system runs on a development machine.
func NewPulser(chip string, simulate bool, runner Runner, logger *zap.Logger) *Pulser {
	if chip == "" {
		chip = DefaultChip
	}
	return &Pulser{
		chip:     chip,
		simulate: simulate || runtime.GOOS != "linux",
		runner:   runner,
		logger:   logger,
	}
}

// Pulse runs one normalized request to completion. The call blocks for the
// pulse duration on the set-then-clear backends.
func (p *Pulser) Pulse(ctx context.Context, req Request) (Result, error) {
	if p.simulate {
		p.logger.Info("mock gpio trigger",
			zap.Int("pin", req.Pin), zap.Int("value", req.Value),
			zap.Int64("duration_ms", req.DurationMs), zap.Bool("hold", req.Hold))
		return Result{
			Mocked:     true,
			Pin:        req.Pin,
			Value:      req.Value,
			DurationMs: req.DurationMs,
			Held:       req.Hold,
		}, nil
	}

	if req.Value == 0 {
		return p.forceOff(ctx, req.Pin)
	}
	if req.Hold {
		return p.hold(ctx, req.Pin)
	}
	return p.pulseHigh(ctx, req)
}

// forceOff drives the line low immediately, no timer.
func (p *Pulser) forceOff(ctx context.Context, pin int) (Result, error) {
	err := p.runner.Run(ctx, 3*time.Second, "gpioset", "-c", p.chip, fmt.Sprintf("%d=0", pin))
	if err != nil {
		return Result{}, fmt.Errorf("gpio: force off pin %d: %w", pin, err)
	}
	return Result{Method: "gpioset", Chip: p.chip, Pin: pin, Value: 0}, nil
}

// hold asserts the line high with no auto-release. gpioset keeps the line
// only while its process lives, so the hold path uses the set-and-exit tools.
func (p *Pulser) hold(ctx context.Context, pin int) (Result, error) {
	err := p.runner.Run(ctx, 3*time.Second, "pinctrl", "set", strconv.Itoa(pin), "op", "dh")
	if err == nil {
		return Result{Method: "pinctrl", Pin: pin, Value: 1, Held: true}, nil
	}
	p.logger.Warn("pinctrl hold failed, trying legacy gpio", zap.Int("pin", pin), zap.Error(err))

	if err := p.runner.Run(ctx, 3*time.Second, "gpio", "-g", "mode", strconv.Itoa(pin), "out"); err == nil {
		if err := p.runner.Run(ctx, 3*time.Second, "gpio", "-g", "write", strconv.Itoa(pin), "1"); err == nil {
			return Result{Method: "gpio", Pin: pin, Value: 1, Held: true}, nil
		}
	}
	return Result{}, fmt.Errorf("gpio: hold pin %d: %w", pin, err)
}

// pulseHigh walks the backend chain, most capable first. gpioset's -t form
// releases the line in hardware after the duration; the fallbacks bracket a
// software sleep between set and clear.
func (p *Pulser) pulseHigh(ctx context.Context, req Request) (Result, error) {
	timeout := time.Duration(req.DurationMs)*time.Millisecond + 5*time.Second
	tArg := TimeArg(req.DurationMs)

	err := p.runner.Run(ctx, timeout, "gpioset",
		"-c", p.chip, "-t", tArg, fmt.Sprintf("%d=1", req.Pin))
	if err == nil {
		return Result{
			Method: "gpioset", Chip: p.chip,
			Pin: req.Pin, Value: 1, DurationMs: req.DurationMs, TimeArg: tArg,
		}, nil
	}
	p.logger.Warn("gpioset failed, trying pinctrl", zap.Int("pin", req.Pin), zap.Error(err))

	res, perr := p.timedPulse(ctx, req, "pinctrl",
		[]string{"set", strconv.Itoa(req.Pin), "op", "dh"},
		[]string{"set", strconv.Itoa(req.Pin), "op", "dl"},
	)
	if perr == nil {
		return res, nil
	}
	p.logger.Warn("pinctrl failed, trying legacy gpio", zap.Int("pin", req.Pin), zap.Error(perr))

	if err := p.runner.Run(ctx, 3*time.Second, "gpio", "-g", "mode", strconv.Itoa(req.Pin), "out"); err == nil {
		if res, gerr := p.timedPulse(ctx, req, "gpio",
			[]string{"-g", "write", strconv.Itoa(req.Pin), "1"},
			[]string{"-g", "write", strconv.Itoa(req.Pin), "0"},
		); gerr == nil {
			return res, nil
		}
	}

	return Result{}, fmt.Errorf("gpio: pulse pin %d: all backends failed: %w", req.Pin, err)
}

// timedPulse is the software-timed set/sleep/clear path. The clear runs even
// when the sleep is cut short by ctx, so the line never stays high.
func (p *Pulser) timedPulse(ctx context.Context, req Request, name string, setArgs, clearArgs []string) (Result, error) {
	if err := p.runner.Run(ctx, 3*time.Second, name, setArgs...); err != nil {
		return Result{}, err
	}

	timer := time.NewTimer(time.Duration(req.DurationMs) * time.Millisecond)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	// Clear with a fresh context: ctx may already be dead.
	clearCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.runner.Run(clearCtx, 3*time.Second, name, clearArgs...); err != nil {
		return Result{}, fmt.Errorf("gpio: release after pulse: %w", err)
	}

	return Result{Method: name, Pin: req.Pin, Value: 1, DurationMs: req.DurationMs}, nil
}

// TimeArg encodes a duration for gpioset -t: whole seconds at or above one
// second (rounded up, matching the hardware tool's granularity), milliseconds
// below. The trailing ",0" releases the line after the interval.
func TimeArg(durationMs int64) string {
	d := clampInt64(durationMs, MinDurationMs, MaxDurationMs)
	if d >= 1000 {
		sec := (d + 999) / 1000
		return fmt.Sprintf("%ds,0", sec)
	}
	return fmt.Sprintf("%dms,0", d)
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func clampInt64(n, min, max int64) int64 {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
