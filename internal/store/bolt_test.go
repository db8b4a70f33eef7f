package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"zigbee-quirks/internal/quirk"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{
		IEEEAddress:  "0xa4c1380000000001",
		ShortAddress: 0x4F21,
		Manufacturer: "_TZE200_nnrfa68v",
		Model:        "TS0601",
		Quirk:        "nous_climate_sensor_e6",
		PairedAt:     time.Now().Truncate(time.Millisecond),
		LastSeen:     time.Now().Truncate(time.Millisecond),
		Endpoints: []Endpoint{
			{ID: 1, ProfileID: 0x0104, DeviceID: 0x0051, InClusters: []uint16{0x0000, 0x0004, 0x0005, 0xEF00}, OutClusters: []uint16{0x000A, 0x0019}},
		},
	}

	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.IEEEAddress)
	if err != nil {
		t.Fatal(err)
	}

	if got.ShortAddress != dev.ShortAddress {
		t.Errorf("short = 0x%04X, want 0x%04X", got.ShortAddress, dev.ShortAddress)
	}
	if got.Manufacturer != dev.Manufacturer {
		t.Errorf("manufacturer = %q, want %q", got.Manufacturer, dev.Manufacturer)
	}
	if got.Quirk != dev.Quirk {
		t.Errorf("quirk = %q, want %q", got.Quirk, dev.Quirk)
	}
	if !got.PairedAt.Equal(dev.PairedAt) {
		t.Errorf("paired_at = %v, want %v", got.PairedAt, dev.PairedAt)
	}
	if len(got.Endpoints) != 1 {
		t.Fatalf("endpoints = %d, want 1", len(got.Endpoints))
	}
	if len(got.Endpoints[0].InClusters) != 4 {
		t.Errorf("in clusters = %v", got.Endpoints[0].InClusters)
	}
}

func TestDeleteDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{IEEEAddress: "0x0000000000000001", ShortAddress: 0x1234}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDevice(dev.IEEEAddress); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetDevice(dev.IEEEAddress)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteDevice(dev.IEEEAddress); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestListDevices(t *testing.T) {
	s := newTestStore(t)

	devs := []*Device{
		{IEEEAddress: "0x0000000000000001", ShortAddress: 0x0001},
		{IEEEAddress: "0x0000000000000002", ShortAddress: 0x0002},
		{IEEEAddress: "0x0000000000000003", ShortAddress: 0x0003},
	}
	for _, d := range devs {
		if err := s.SaveDevice(d); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}

	found := make(map[string]bool)
	for _, d := range list {
		found[d.IEEEAddress] = true
	}
	for _, d := range devs {
		if !found[d.IEEEAddress] {
			t.Errorf("device %s not in list", d.IEEEAddress)
		}
	}
}

func TestUpdateDevice(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveDevice(&Device{IEEEAddress: "0x0000000000000001"}); err != nil {
		t.Fatal(err)
	}
	err := s.UpdateDevice("0x0000000000000001", func(d *Device) error {
		d.FriendlyName = "bedroom"
		d.IEEEAddress = "ignored"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDevice("0x0000000000000001")
	if err != nil {
		t.Fatal(err)
	}
	if got.FriendlyName != "bedroom" {
		t.Errorf("friendly name = %q", got.FriendlyName)
	}

	sentinel := errors.New("abort")
	err = s.UpdateDevice("0x0000000000000001", func(d *Device) error {
		d.FriendlyName = "kitchen"
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	got, _ = s.GetDevice("0x0000000000000001")
	if got.FriendlyName != "bedroom" {
		t.Errorf("aborted update was saved: %q", got.FriendlyName)
	}

	err = s.UpdateDevice("0xFFFFFFFFFFFFFFFF", func(*Device) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing device: err = %v, want ErrNotFound", err)
	}
}

func TestDeviceInfoRoundTrip(t *testing.T) {
	info := quirk.DeviceInfo{
		IEEEAddress:  "0xa4c1380000000001",
		ShortAddress: 0x4F21,
		Manufacturer: "_TZE200_locansqn",
		Model:        "TS0601",
		Endpoints: []quirk.EndpointInfo{
			{ID: 1, ProfileID: 0x0104, DeviceID: 0x0051, InClusters: []uint16{0xEF00}, OutClusters: []uint16{0x000A}},
		},
	}
	dev := FromInfo(info)
	if dev.Name() != info.IEEEAddress {
		t.Errorf("name = %q", dev.Name())
	}
	back := dev.Info()
	if back.Manufacturer != info.Manufacturer || back.Model != info.Model {
		t.Errorf("model info = %s/%s", back.Manufacturer, back.Model)
	}
	if len(back.Endpoints) != 1 || back.Endpoints[0].DeviceID != 0x0051 || back.Endpoints[0].InClusters[0] != 0xEF00 {
		t.Errorf("endpoints = %+v", back.Endpoints)
	}
}
