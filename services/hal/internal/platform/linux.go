// services/hal/internal/platform/linux.go
//go:build linux && !tinygo

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pwmlight-go/errcode"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/x/mathx"
	"pwmlight-go/x/timex"

	"github.com/warthog618/go-gpiocdev"
	"tinygo.org/x/drivers"
)

// pwmSysfsBase is a variable so tests can point it at a temporary tree.
var pwmSysfsBase = "/sys/class/pwm"

const consumer = "pwmlightd"

// Linux drives real hardware: PWM through /sys/class/pwm/pwmchipN and GPIO
// lines through the character device. It has no I2C buses.
type Linux struct {
	GPIOChip string // e.g. "gpiochip0"
	PWMChip  int    // N in pwmchipN

	mu   sync.Mutex
	pins map[int]*cdevPin
}

var _ Provider = (*Linux)(nil)

func NewLinux(gpioChip string, pwmChip int) *Linux {
	if gpioChip == "" {
		gpioChip = "gpiochip0"
	}
	return &Linux{GPIOChip: gpioChip, PWMChip: pwmChip, pins: map[int]*cdevPin{}}
}

func (l *Linux) Name() string { return "linux" }

func (l *Linux) Pin(n int) (core.IRQPin, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pins[n]; ok {
		return p, true
	}
	p := &cdevPin{chip: l.GPIOChip, offset: n}
	l.pins[n] = p
	return p, true
}

func (l *Linux) PWM(pin int) (core.PWMHandle, error) {
	chip := filepath.Join(pwmSysfsBase, "pwmchip"+strconv.Itoa(l.PWMChip))
	n, err := readInt(filepath.Join(chip, "npwm"))
	if err != nil {
		return nil, fmt.Errorf("platform: pwm chip %s: %w", chip, errcode.UnknownPin)
	}
	if n <= 0 {
		return nil, errcode.Unsupported
	}
	return &sysfsPWM{chipPath: chip, npwm: n, pin: pin}, nil
}

func (l *Linux) I2C(string) (drivers.I2C, bool) { return nil, false }

// ----------------------------- PWM (sysfs) -----------------------------------

// sysfsPWM maps the timer/channel model onto one sysfs PWM channel: the timer
// config fixes period and resolution, the channel config picks pwmM.
type sysfsPWM struct {
	mu       sync.Mutex
	chipPath string
	npwm     int
	pin      int

	pwmPath  string
	channel  int
	periodNS uint64
	max      uint32
	staged   uint32
	enabled  bool
}

func (d *sysfsPWM) ConfigureTimer(cfg core.PWMTimerConfig) error {
	if cfg.FreqHz == 0 || cfg.ResolutionBits == 0 || cfg.ResolutionBits > 20 {
		return errcode.InvalidParams
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.periodNS = timex.PeriodFromHz(cfg.FreqHz)
	d.max = mathx.MaxForBits(cfg.ResolutionBits)
	return nil
}

func (d *sysfsPWM) ConfigureChannel(cfg core.PWMChannelConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.periodNS == 0 {
		return errcode.HALNotReady
	}
	if int(cfg.Channel) >= d.npwm {
		return errcode.InvalidParams
	}
	d.channel = int(cfg.Channel)
	d.pwmPath = filepath.Join(d.chipPath, fmt.Sprintf("pwm%d", d.channel))
	if err := d.ensureExported(); err != nil {
		return err
	}
	// Period may only change while disabled.
	_ = d.writeBool("enable", false)
	d.enabled = false
	if err := d.writeUint("period", d.periodNS); err != nil {
		return err
	}
	d.staged = min(cfg.Duty, d.max)
	return d.commit()
}

func (d *sysfsPWM) SetDuty(duty uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pwmPath == "" {
		return errcode.HALNotReady
	}
	d.staged = min(duty, d.max)
	return nil
}

func (d *sysfsPWM) UpdateDuty() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pwmPath == "" {
		return errcode.HALNotReady
	}
	return d.commit()
}

func (d *sysfsPWM) MaxDuty() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.max
}

func (d *sysfsPWM) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pwmPath == "" {
		return nil
	}
	_ = d.writeUint("duty_cycle", 0)
	err := d.writeBool("enable", false)
	d.enabled = false
	return err
}

// caller holds lock
func (d *sysfsPWM) commit() error {
	ns := d.dutyNS(d.staged)
	if err := d.writeUint("duty_cycle", ns); err != nil {
		return err
	}
	if !d.enabled {
		if err := d.writeBool("enable", true); err != nil {
			return err
		}
		d.enabled = true
	}
	return nil
}

// dutyNS scales a logical duty in [0..max] to nanoseconds of the period.
func (d *sysfsPWM) dutyNS(duty uint32) uint64 {
	if d.max == 0 {
		return 0
	}
	return uint64(duty) * d.periodNS / uint64(d.max)
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	if err := writeSysfs(filepath.Join(d.chipPath, "export"), strconv.Itoa(d.channel)); err != nil {
		// Already exported by someone else.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("platform: export pwm: %w", err)
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("platform: pwm path not created after export: %w", err)
	}
	return nil
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens without O_TRUNC: some attributes reject truncation. Right
// after export udev may still be fixing permissions, so EACCES/ENOENT are
// retried for a short while.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			_, err = f.WriteString(value)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err == nil {
				return nil
			}
		}
		if !time.Now().Before(deadline) || !isRetryableSysfsErr(err) {
			return err
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) ||
		errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("platform: %s is empty", path)
	}
	return strconv.Atoi(s)
}

// ----------------------------- GPIO (cdev) -----------------------------------

// cdevPin is a GPIO line requested from the character device. Input lines are
// re-requested with edge detection when an IRQ handler is installed.
type cdevPin struct {
	mu     sync.Mutex
	chip   string
	offset int
	line   *gpiocdev.Line
	bias   gpiocdev.LineReqOption
	level  bool // last output level
	out    bool

	// While watching, the level comes from edge events so the event handler
	// never needs mu.
	watching atomic.Bool
	evLevel  atomic.Bool
}

func biasOption(pull core.Pull) gpiocdev.LineReqOption {
	switch pull {
	case core.PullUp:
		return gpiocdev.WithPullUp
	case core.PullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasDisabled
	}
}

// caller holds lock
func (p *cdevPin) request(opts ...gpiocdev.LineReqOption) error {
	if p.line != nil {
		_ = p.line.Close()
		p.line = nil
	}
	opts = append(opts, gpiocdev.WithConsumer(consumer))
	l, err := gpiocdev.RequestLine(p.chip, p.offset, opts...)
	if err != nil {
		return fmt.Errorf("platform: request %s/%d: %w", p.chip, p.offset, err)
	}
	p.line = l
	return nil
}

func (p *cdevPin) Number() int { return p.offset }

func (p *cdevPin) ConfigureInput(pull core.Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bias = biasOption(pull)
	p.out = false
	return p.request(gpiocdev.AsInput, p.bias)
}

func (p *cdevPin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := 0
	if initial {
		v = 1
	}
	p.out = true
	p.level = initial
	return p.request(gpiocdev.AsOutput(v))
}

func (p *cdevPin) Set(b bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil || !p.out {
		return
	}
	v := 0
	if b {
		v = 1
	}
	if p.line.SetValue(v) == nil {
		p.level = b
	}
}

func (p *cdevPin) Get() bool {
	if p.watching.Load() {
		return p.evLevel.Load()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return false
	}
	if p.out {
		return p.level
	}
	v, err := p.line.Value()
	return err == nil && v != 0
}

func (p *cdevPin) Toggle() { p.Set(!p.Get()) }

func (p *cdevPin) SetIRQ(edge core.Edge, handler func()) error {
	var edgeOpt gpiocdev.LineReqOption
	switch edge {
	case core.EdgeRising:
		edgeOpt = gpiocdev.WithRisingEdge
	case core.EdgeFalling:
		edgeOpt = gpiocdev.WithFallingEdge
	case core.EdgeBoth:
		edgeOpt = gpiocdev.WithBothEdges
	default:
		return errcode.InvalidParams
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bias := p.bias
	if bias == nil {
		bias = gpiocdev.WithBiasDisabled
	}
	onEvent := func(evt gpiocdev.LineEvent) {
		p.evLevel.Store(evt.Type == gpiocdev.LineEventRisingEdge)
		handler()
	}
	if err := p.request(gpiocdev.AsInput, bias, edgeOpt, gpiocdev.WithEventHandler(onEvent)); err != nil {
		return err
	}
	v, err := p.line.Value()
	if err != nil {
		return err
	}
	p.evLevel.Store(v != 0)
	p.watching.Store(true)
	return nil
}

func (p *cdevPin) ClearIRQ() error {
	p.watching.Store(false)
	p.mu.Lock()
	defer p.mu.Unlock()
	bias := p.bias
	if bias == nil {
		bias = gpiocdev.WithBiasDisabled
	}
	return p.request(gpiocdev.AsInput, bias)
}
