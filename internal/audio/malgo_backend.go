package audio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// DeviceInfo describes a capture device
type DeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// probeMalgo checks that a miniaudio context can be created on this host
func probeMalgo() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("initializing audio context: %w", err)
	}
	freeContext(ctx)
	return nil
}

// ListDevices enumerates the available capture devices
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerating capture devices: %w", err)
	}

	devices := toDeviceList(infos)
	filtered := devices[:0]
	for _, d := range devices {
		// Skip the miniaudio null device
		if strings.Contains(d.Name, "Discard all samples") {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered, nil
}

func toDeviceList(infos []malgo.DeviceInfo) []DeviceInfo {
	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        infos[i].ID.String(),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices
}

// selectDevice returns the index into devices of the device matching name.
// Empty and "default" pick the system default, otherwise an exact name or ID
// match wins over a case-insensitive substring match.
func selectDevice(devices []DeviceInfo, name string) (int, error) {
	if len(devices) == 0 {
		return -1, fmt.Errorf("no capture devices available")
	}

	if name == "" || name == "default" {
		for _, d := range devices {
			if d.IsDefault {
				return d.Index, nil
			}
		}
		return devices[0].Index, nil
	}

	for _, d := range devices {
		if d.Name == name || d.ID == name {
			return d.Index, nil
		}
	}

	needle := strings.ToLower(name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d.Index, nil
		}
	}

	return -1, fmt.Errorf("no capture device matching %q (%d available)", name, len(devices))
}
