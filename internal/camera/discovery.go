package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Device is a local V4L2 capture device
type Device struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product,omitempty"`
}

// Discover lists character devices matching video* under devDir, with names
// read from sysfsDir (normally /dev and /sys/class/video4linux).
func Discover(devDir, sysfsDir string) ([]Device, error) {
	matches, err := filepath.Glob(filepath.Join(devDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}
	sort.Strings(matches)

	var devices []Device
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			continue
		}
		devices = append(devices, describe(match, sysfsDir))
	}
	return devices, nil
}

func describe(path, sysfsDir string) Device {
	base := filepath.Base(path)
	d := Device{Path: path, Name: base}

	node := filepath.Join(sysfsDir, base)
	if name, err := os.ReadFile(filepath.Join(node, "name")); err == nil {
		d.Name = strings.TrimSpace(string(name))
	}
	// device links to the USB interface; the ids live on its parent
	intf, err := filepath.EvalSymlinks(filepath.Join(node, "device"))
	if err != nil {
		return d
	}
	usb := filepath.Dir(intf)
	if v, err := os.ReadFile(filepath.Join(usb, "idVendor")); err == nil {
		d.Vendor = strings.TrimSpace(string(v))
	}
	if p, err := os.ReadFile(filepath.Join(usb, "idProduct")); err == nil {
		d.Product = strings.TrimSpace(string(p))
	}
	return d
}
