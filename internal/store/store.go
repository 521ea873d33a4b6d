// Package store persists small text values across process restarts and
// implements the remembered-device contract on top of them.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// LastDeviceKey is the single key under which the last paired device is kept.
const LastDeviceKey = "lastConnectedDevice"

// ErrInvalidDeviceInfo is returned when the stored record cannot be decoded.
var ErrInvalidDeviceInfo = errors.New("invalid stored device info")

// Store is a durable key-value store of text values.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// DeviceInfo identifies the most recently paired peripheral.
type DeviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LoadDeviceInfo reads the remembered device. ok is false when nothing was stored.
func LoadDeviceInfo(s Store) (info DeviceInfo, ok bool, err error) {
	raw, found, err := s.Get(LastDeviceKey)
	if err != nil {
		return DeviceInfo{}, false, fmt.Errorf("read %s: %w", LastDeviceKey, err)
	}
	if !found || strings.TrimSpace(raw) == "" || raw == "null" {
		return DeviceInfo{}, false, nil
	}

	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return DeviceInfo{}, false, fmt.Errorf("%w: %v", ErrInvalidDeviceInfo, err)
	}
	if info.ID == "" {
		return DeviceInfo{}, false, fmt.Errorf("%w: empty id", ErrInvalidDeviceInfo)
	}
	return info, true, nil
}

// SaveDeviceInfo remembers info as the last paired device.
func SaveDeviceInfo(s Store, info DeviceInfo) error {
	if info.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDeviceInfo)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode device info: %w", err)
	}
	if err := s.Set(LastDeviceKey, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", LastDeviceKey, err)
	}
	return nil
}

// ForgetDeviceInfo removes the remembered device.
func ForgetDeviceInfo(s Store) error {
	if err := s.Delete(LastDeviceKey); err != nil {
		return fmt.Errorf("delete %s: %w", LastDeviceKey, err)
	}
	return nil
}
