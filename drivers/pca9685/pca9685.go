// Package pca9685 provides a driver for the NXP PCA9685 16-channel, 12-bit
// PWM controller.
//
// Duty values are 0..MaxDuty (4095). Zero and MaxDuty use the chip's
// full-off and full-on bits so the outputs are glitch-free at the ends.
package pca9685

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Address is the default I2C address (all address pins low).
const Address = 0x40

// MaxDuty is the largest duty value (12-bit counter).
const MaxDuty = 4095

// Channels on one chip.
const Channels = 16

const (
	regMode1     = 0x00
	regMode2     = 0x01
	regLED0OnL   = 0x06
	regAllLEDOnL = 0xFA
	regPrescale  = 0xFE

	mode1Restart = 0x80
	mode1AI      = 0x20
	mode1Sleep   = 0x10
	mode1AllCall = 0x01

	mode2Outdrv = 0x04

	fullBit = 0x10 // bit 4 of ON_H / OFF_H

	oscHz       = 25_000_000
	minPrescale = 3
	maxPrescale = 255
)

var (
	ErrChannel   = errors.New("pca9685: channel out of range")
	ErrFrequency = errors.New("pca9685: frequency out of range")
)

// Device wraps an I2C connection to a PCA9685.
type Device struct {
	bus     drivers.I2C
	Address uint16
	buf     [5]byte
}

// New creates a Device; it does not touch the chip.
func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = Address
	}
	return &Device{bus: bus, Address: addr}
}

// Configure resets the chip, selects totem-pole outputs with auto-increment
// and programs the output frequency. All channels start fully off.
func (d *Device) Configure(freqHz uint32) error {
	if err := d.writeReg(regMode2, mode2Outdrv); err != nil {
		return err
	}
	if err := d.SetAll(0); err != nil {
		return err
	}
	return d.SetFrequency(freqHz)
}

// Prescale returns the prescaler for freqHz: round(osc/(4096*f)) - 1.
func Prescale(freqHz uint32) (uint8, error) {
	if freqHz == 0 {
		return 0, ErrFrequency
	}
	den := uint64(4096) * uint64(freqHz)
	p := (uint64(oscHz)+den/2)/den - 1
	if p < minPrescale || p > maxPrescale {
		return 0, ErrFrequency
	}
	return uint8(p), nil
}

// SetFrequency programs the prescaler. The oscillator must sleep while the
// prescaler is written; the previous mode is restored afterwards.
func (d *Device) SetFrequency(freqHz uint32) error {
	pre, err := Prescale(freqHz)
	if err != nil {
		return err
	}
	old, err := d.readReg(regMode1)
	if err != nil {
		return err
	}
	old &^= mode1Restart | mode1Sleep
	if err := d.writeReg(regMode1, old|mode1Sleep); err != nil {
		return err
	}
	if err := d.writeReg(regPrescale, pre); err != nil {
		return err
	}
	if err := d.writeReg(regMode1, old|mode1AI|mode1AllCall); err != nil {
		return err
	}
	// Oscillator needs 500µs to stabilise before RESTART.
	time.Sleep(time.Millisecond)
	return d.writeReg(regMode1, old|mode1AI|mode1AllCall|mode1Restart)
}

// Set writes the duty of one channel.
func (d *Device) Set(ch uint8, duty uint16) error {
	if ch >= Channels {
		return ErrChannel
	}
	return d.writeLED(regLED0OnL+4*ch, duty)
}

// SetAll writes the same duty to every channel.
func (d *Device) SetAll(duty uint16) error {
	return d.writeLED(regAllLEDOnL, duty)
}

func (d *Device) writeLED(reg uint8, duty uint16) error {
	var on, off uint16
	switch {
	case duty == 0:
		off = fullBit << 8
	case duty >= MaxDuty:
		on = fullBit << 8
	default:
		off = duty
	}
	d.buf[0] = reg
	d.buf[1] = byte(on)
	d.buf[2] = byte(on >> 8)
	d.buf[3] = byte(off)
	d.buf[4] = byte(off >> 8)
	return d.bus.Tx(d.Address, d.buf[:5], nil)
}

func (d *Device) writeReg(reg, v uint8) error {
	d.buf[0] = reg
	d.buf[1] = v
	return d.bus.Tx(d.Address, d.buf[:2], nil)
}

func (d *Device) readReg(reg uint8) (uint8, error) {
	d.buf[0] = reg
	if err := d.bus.Tx(d.Address, d.buf[:1], d.buf[1:2]); err != nil {
		return 0, err
	}
	return d.buf[1], nil
}
