//go:build linux

package gohw

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"klipper-go-migration/pkg/probe"
)

// ioctl wraps the raw SYS_IOCTL syscall the way unix.IoctlSetTermios
// does internally, for gpio-cdev requests x/sys/unix has no typed
// helper for.
func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// gpioLineFlag mirrors the GPIOHANDLE_REQUEST_* flags consumed by the
// Linux gpio-cdev ioctl ABI.
const (
	gpioLineFlagOutput = 1 << 1
	gpioLineFlagInput  = 1 << 0
)

// gpioHandleRequest matches struct gpiohandle_request.
type gpioHandleRequest struct {
	LineOffsets   [64]uint32
	Flags         uint32
	DefaultValues [64]uint8
	ConsumerLabel [32]byte
	Lines         uint32
	Fd            int32
}

// gpioHandleData matches struct gpiohandle_data.
type gpioHandleData struct {
	Values [64]uint8
}

const (
	gpioGetLineHandleIoctl = 0xc16cb403
	gpioHandleGetLineValuesIoctl = 0xc040b408
	gpioHandleSetLineValuesIoctl = 0xc040b409
)

// LinuxGPIO drives a real BLTouch/solenoid/servo/endstop rig over a
// Linux gpio-cdev character device, the way pkg/serial's ioctl_linux.go
// drives a tty over termios: a small ioctl-based ABI gated behind a
// linux build tag, with darwin left to the portable Simulated stand-in.
type LinuxGPIO struct {
	mu      sync.Mutex
	chip    *os.File
	lines   map[string]uint32 // logical pin name -> chip line offset
	handles map[string]int    // logical pin name -> open line-handle fd
	servo   map[string]float64
	probeInputLine string
}

// NewLinuxGPIO opens the given gpiochip device (e.g. "/dev/gpiochip0")
// and maps logical pin names to chip line offsets.
func NewLinuxGPIO(chipPath string, lines map[string]uint32, probeInputPin string) (*LinuxGPIO, error) {
	f, err := os.OpenFile(chipPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("gohw: open %s: %w", chipPath, err)
	}
	g := &LinuxGPIO{
		chip:           f,
		lines:          lines,
		handles:        make(map[string]int),
		servo:          make(map[string]float64),
		probeInputLine: probeInputPin,
	}
	return g, nil
}

func (g *LinuxGPIO) lineHandle(name string, output bool) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fd, ok := g.handles[name]; ok {
		return fd, nil
	}
	offset, ok := g.lines[name]
	if !ok {
		return 0, fmt.Errorf("gohw: unknown pin %q", name)
	}
	req := gpioHandleRequest{Lines: 1}
	req.LineOffsets[0] = offset
	if output {
		req.Flags = gpioLineFlagOutput
	} else {
		req.Flags = gpioLineFlagInput
	}
	copy(req.ConsumerLabel[:], "klipper-go-probe")
	if err := ioctl(g.chip.Fd(), gpioGetLineHandleIoctl, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("gohw: GPIO_GET_LINEHANDLE_IOCTL(%s): %w", name, err)
	}
	g.handles[name] = int(req.Fd)
	return int(req.Fd), nil
}

func (g *LinuxGPIO) WritePin(id string, level probe.PinLevel) {
	fd, err := g.lineHandle(id, true)
	if err != nil {
		return
	}
	data := gpioHandleData{}
	if level == probe.High {
		data.Values[0] = 1
	}
	_ = ioctl(uintptr(fd), gpioHandleSetLineValuesIoctl, unsafe.Pointer(&data))
}

func (g *LinuxGPIO) ReadPin(id string) probe.PinLevel {
	fd, err := g.lineHandle(id, false)
	if err != nil {
		return probe.Low
	}
	data := gpioHandleData{}
	if err := ioctl(uintptr(fd), gpioHandleGetLineValuesIoctl, unsafe.Pointer(&data)); err != nil {
		return probe.Low
	}
	return probe.PinLevel(data.Values[0] != 0)
}

func (g *LinuxGPIO) DelayMs(n int)     { time.Sleep(time.Duration(n) * time.Millisecond) }
func (g *LinuxGPIO) SafeDelay(n int)   { unix.Nanosleep(&unix.Timespec{Nsec: int64(n) * 1e6}, nil) }

// ServoMove is tracked in software; driving an actual PWM duty cycle
// for hobby-servo angles needs a PWM chip binding this struct doesn't
// open, so callers needing real BLTouch/ZServo hardware should back
// this with a pwm-backed HardwareAdapter instead.
func (g *LinuxGPIO) ServoMove(id string, angleDeg float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.servo[id] = angleDeg
}

func (g *LinuxGPIO) IsProbeTriggered() bool {
	return g.ReadPin(g.probeInputLine) == probe.High
}

func (g *LinuxGPIO) EndstopTriggerState() probe.EndstopBits {
	return probe.EndstopBits{ZMinProbe: g.IsProbeTriggered()}
}

func (g *LinuxGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, fd := range g.handles {
		unix.Close(fd)
		delete(g.handles, name)
	}
	return g.chip.Close()
}

var _ probe.HardwareAdapter = (*LinuxGPIO)(nil)
