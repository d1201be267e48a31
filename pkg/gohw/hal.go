// Package gohw provides concrete probe.HardwareAdapter implementations:
// an in-memory simulator for tests and a Linux GPIO-backed adapter for
// real hardware.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package gohw

import (
	"sync"
	"time"

	"klipper-go-migration/pkg/probe"
)

// Simulated is an in-memory probe.HardwareAdapter for tests and the
// probe-sim command. Every written pin is tracked; ServoMove records
// the last angle; IsProbeTriggered is driven externally via Trigger,
// modeling an operator manually attaching/detaching a physical probe.
type Simulated struct {
	mu         sync.Mutex
	pins       map[string]probe.PinLevel
	servoAngle map[string]float64
	triggered  bool
	endstops   probe.EndstopBits
	delay      time.Duration
}

// NewSimulated builds a Simulated adapter with all pins low and the
// probe untriggered.
func NewSimulated() *Simulated {
	return &Simulated{
		pins:       make(map[string]probe.PinLevel),
		servoAngle: make(map[string]float64),
	}
}

func (s *Simulated) WritePin(id string, level probe.PinLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[id] = level
}

func (s *Simulated) ReadPin(id string) probe.PinLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[id]
}

// DelayMs sleeps n*delay when UseRealDelay has set a per-millisecond
// scale; otherwise it returns immediately, as tests want.
func (s *Simulated) DelayMs(n int) {
	s.mu.Lock()
	unit := s.delay
	s.mu.Unlock()
	if unit > 0 {
		time.Sleep(time.Duration(n) * unit)
	}
}

// SafeDelay behaves like DelayMs but would yield to a reactor's event
// loop on real hardware; the simulator has no reactor to yield to.
func (s *Simulated) SafeDelay(n int) { s.DelayMs(n) }

func (s *Simulated) ServoMove(id string, angleDeg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servoAngle[id] = angleDeg
}

func (s *Simulated) ServoAngle(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servoAngle[id]
}

func (s *Simulated) IsProbeTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered
}

// Trigger sets the simulated trigger state, standing in for an
// operator attaching/detaching a probe or the bed physically closing
// the switch.
func (s *Simulated) Trigger(triggered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = triggered
	s.endstops.ZMinProbe = triggered
}

func (s *Simulated) EndstopTriggerState() probe.EndstopBits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endstops
}

// SetEndstops overrides the full endstop snapshot, used by tests
// exercising the sensorless-delta tower-trigger path.
func (s *Simulated) SetEndstops(bits probe.EndstopBits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endstops = bits
}

// UseRealDelay switches DelayMs/SafeDelay from an instant no-op to an
// actual time.Sleep, for cmd/probe-sim where wall-clock pacing matters.
func (s *Simulated) UseRealDelay(unit time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = unit
}

var _ probe.HardwareAdapter = (*Simulated)(nil)
