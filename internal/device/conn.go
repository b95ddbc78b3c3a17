// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/electricbubble/gadb"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/logging"
)

// Shell is the subset of an adb device connection used by Driver.
// *gadb.Device implements it.
type Shell interface {
	Serial() string
	RunShellCommand(cmd string, args ...string) (string, error)
	Push(source io.Reader, remotePath string, modification time.Time, mode ...os.FileMode) error
}

// Connect connects to the device with the given serial through the local
// adb server. A serial of the form host:port is connected over TCP first.
// An empty serial selects the only attached device.
func Connect(ctx context.Context, serial string, cfg *Config) (*Driver, error) {
	var dev *gadb.Device
	err := doAsync(ctx, func() error {
		var err error
		dev, err = findDevice(ctx, serial)
		return err
	}, nil)
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}
	logging.Debugf(ctx, "Connected to device %s", dev.Serial())
	return New(dev, cfg), nil
}

func findDevice(ctx context.Context, serial string) (*gadb.Device, error) {
	client, err := gadb.NewClient()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to adb server")
	}

	if host, portStr, err := net.SplitHostPort(serial); err == nil {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, errors.Errorf("failed to parse adb port %q", portStr)
		}
		logging.Debugf(ctx, "Connecting adb to %s", serial)
		if err := client.Connect(host, port); err != nil {
			return nil, errors.Wrapf(err, "failed to connect to %s", serial)
		}
	}

	devices, err := client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	var serials []string
	for _, d := range devices {
		serials = append(serials, d.Serial())
	}
	if serial == "" {
		switch len(devices) {
		case 0:
			return nil, errors.New("no devices attached")
		case 1:
			return &devices[0], nil
		default:
			return nil, errors.Errorf("multiple devices attached (%s); select one with -device", strings.Join(serials, ", "))
		}
	}
	for i := range devices {
		if devices[i].Serial() == serial {
			return &devices[i], nil
		}
	}
	return nil, errors.Errorf("device %q not found in [%s]", serial, strings.Join(serials, ", "))
}
