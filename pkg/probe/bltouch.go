package probe

import "klipper-go-migration/pkg/errors"

// BLTouch command pulse widths, in milliseconds. Adapted from the
// teacher's bltCommandPulseSec table (signal-period quantized PWM
// scheduling); here the probe core only needs the pulse identity and
// approximate hold time since step-clock quantization is the MCU
// layer's concern, out of scope here.
const (
	bltCmdPinDown   = "pin_down"
	bltCmdTouchMode = "touch_mode"
	bltCmdPinUp     = "pin_up"
	bltCmdReset     = "reset"

	bltPinMoveMs = 680
)

var bltCommandPulseMs = map[string]int{
	bltCmdPinDown:   1,
	bltCmdTouchMode: 2,
	bltCmdPinUp:     2,
	bltCmdReset:     3,
}

// actuateBLTouch drives the BLTouch servo pin through the pin_up/
// pin_down pulse the deploy/stow request needs and waits out the pin
// move time. It does not read the stylus state back and runs no
// self-test; sendBLTouchPulse returns ErrProbeBLTouchSelfTest only for
// a command name missing from bltCommandPulseMs.
func (d *Driver) actuateBLTouch(deploy bool) error {
	cmd := bltCmdPinUp
	if deploy {
		cmd = bltCmdPinDown
	}
	return d.sendBLTouchPulse(cmd)
}

func (d *Driver) sendBLTouchPulse(cmd string) error {
	width, ok := bltCommandPulseMs[cmd]
	if !ok {
		return errors.ProbeBLTouchSelfTestError(cmd)
	}
	d.hw.ServoMove("bltouch", pulseAngle(cmd))
	d.hw.DelayMs(width)
	d.hw.DelayMs(bltPinMoveMs - width)
	return nil
}

func pulseAngle(cmd string) float64 {
	switch cmd {
	case bltCmdPinDown:
		return 10
	case bltCmdTouchMode:
		return 60
	case bltCmdPinUp:
		return 160
	case bltCmdReset:
		return 0
	default:
		return 0
	}
}

// redeployStylus re-deploys the BLTouch stylus. Used by TriggerMove
// before a low-speed descent and is the only deploy path that can fail
// independently of the set_deployed state machine.
func (d *Driver) redeployStylus() error {
	return d.sendBLTouchPulse(bltCmdPinDown)
}

// stowStylus stows the BLTouch stylus after a low-speed trigger.
func (d *Driver) stowStylus() error {
	return d.sendBLTouchPulse(bltCmdPinUp)
}
