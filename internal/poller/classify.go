// internal/poller/classify.go
package poller

import (
	"context"
	"errors"
	"fmt"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/modbus"
)

// isException reports whether err is a device answer rather than a broken
// transport. Exceptions leave the connection usable.
func isException(err error) bool {
	var pe *modbus.ProtocolException
	return errors.As(err, &pe)
}

// optional swallows exceptions for registers some firmware lacks.
func optional(err error) error {
	if err == nil || isException(err) {
		return nil
	}
	return err
}

// classify determines the controller type on a fresh connection.
// Classic is probed first; an exception there falls through to TriStar.
// Transport failures abort.
func classify(c Client, ep device.Endpoint) (device.ControllerInfo, device.PerUnit, error) {
	info := device.ControllerInfo{Endpoint: ep}

	regs, err := c.ReadMultipleRegisters(device.ClassicReference, device.ClassicIdentityLength)
	if err == nil && len(regs) >= 3 {
		info.Type = device.Classic
		info.Model = device.DecodeModel(regs[0])
		info.BuildDate = device.DecodeBuildDate(regs[1], regs[2])
		if err := readClassicIdentity(c, &info); err != nil {
			return device.ControllerInfo{}, device.PerUnit{}, err
		}
		return info, device.PerUnit{}, nil
	}
	if err != nil && !isException(err) {
		return device.ControllerInfo{}, device.PerUnit{}, fmt.Errorf("classify: %w", err)
	}

	regs, err = c.ReadMultipleRegisters(device.TriStarReference, device.TriStarScalingLength)
	if err != nil {
		return device.ControllerInfo{}, device.PerUnit{}, fmt.Errorf("classify: neither Classic nor TriStar: %w", err)
	}
	pu, err := device.DecodePerUnit(regs)
	if err != nil {
		return device.ControllerInfo{}, device.PerUnit{}, fmt.Errorf("classify: %w", err)
	}

	info.ForTriStar()
	return info, pu, nil
}

// readClassicIdentity fills the boilerplate fields. Each read is optional.
func readClassicIdentity(c Client, info *device.ControllerInfo) error {
	if regs, err := c.ReadMultipleRegisters(device.WhizBangJrAddress, device.WhizBangJrProbeLength); err == nil {
		info.HasWhizBangJr = device.HasWhizBangJr(regs)
	} else if err := optional(err); err != nil {
		return err
	}

	if regs, err := c.ReadMultipleRegisters(device.ClassicMACAddress, 3); err == nil {
		if mac, err := device.DecodeMAC(regs); err == nil {
			info.MACAddress = mac
		}
	} else if err := optional(err); err != nil {
		return err
	}

	if regs, err := c.ReadMultipleRegisters(device.ClassicSerialAddress, 2); err == nil {
		if sn, err := device.DecodeSerial(regs); err == nil {
			info.SerialNumber = sn
		}
	} else if err := optional(err); err != nil {
		return err
	}

	if regs, err := c.ReadMultipleRegisters(device.ClassicLastVOCAddress, 1); err == nil {
		info.LastVOC = device.DecodeLastVOC(regs[0])
	} else if err := optional(err); err != nil {
		return err
	}

	if regs, err := c.ReadMultipleRegisters(device.ClassicUnitName, 4); err == nil {
		info.UnitName = device.DecodeUnitName(regs)
	} else if err := optional(err); err != nil {
		return err
	}

	if regs, err := c.ReadMultipleRegisters(device.ClassicNominalBattery, 1); err == nil {
		info.NominalBatteryVolts = float64(regs[0].Unsigned())
	} else if err := optional(err); err != nil {
		return err
	}

	if regs, err := c.ReadMultipleRegisters(device.ClassicFirmware, 4); err == nil {
		if app, netv, err := device.DecodeFirmware(regs); err == nil {
			info.AppVersion = app
			info.NetVersion = netv
		}
	} else if err := optional(err); err != nil {
		return err
	}
	return nil
}

// Probe opens one connection, classifies the controller and closes again.
// Used by discovery to learn the name of a newly seen unit.
func Probe(ctx context.Context, dial Dialer, ep device.Endpoint) (device.ControllerInfo, error) {
	c, err := dial(ctx)
	if err != nil {
		return device.ControllerInfo{}, err
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	info, _, err := classify(c, ep)
	if err != nil {
		if ctx.Err() != nil {
			return device.ControllerInfo{}, ctx.Err()
		}
		return device.ControllerInfo{}, err
	}
	return info, nil
}
