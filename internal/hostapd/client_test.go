package hostapd

import (
	"context"
	"errors"
	"fmt"
	"path"
	"testing"
	"time"

	"github.com/awilliams/openwrt-presence/internal/hostapd/hostapdtest"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

func TestClient_Status(t *testing.T) {
	statusResp := hostapdtest.Status{
		State:      "OK",
		Channel:    42,
		SSID:       "test-ssid",
		BSSID:      "test-bssid",
		MaxTxPower: 1122,
	}
	hostapd := serveAP(t, hostapdtest.Config{Status: statusResp})

	client, err := NewClient(t.TempDir(), hostapd.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	got, err := client.Status()
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("got Status: %+v", got)

	if got.State != statusResp.State {
		t.Errorf("got State %q; want %q", got.State, statusResp.State)
	}
	if got.Channel != statusResp.Channel {
		t.Errorf("got Channel %d; want %d", got.Channel, statusResp.Channel)
	}
	if got.SSID != statusResp.SSID {
		t.Errorf("got SSID %q; want %q", got.SSID, statusResp.SSID)
	}
	if got.BSSID != statusResp.BSSID {
		t.Errorf("got BSSID %q; want %q", got.BSSID, statusResp.BSSID)
	}
	if got.MaxTxPower != statusResp.MaxTxPower {
		t.Errorf("got MaxTxPower %d; want %d", got.MaxTxPower, statusResp.MaxTxPower)
	}
}

func TestClient_Stations(t *testing.T) {
	stations := []hostapdtest.Station{
		{MAC: presence.MustParseMAC("ff:ff:ff:00:00:01"), Associated: true, Signal: -41, Connected: time.Minute},
		{MAC: presence.MustParseMAC("ff:ff:00:00:00:02"), Signal: -72},
		{MAC: presence.MustParseMAC("ff:00:00:00:00:03"), Associated: true, Signal: -55, Connected: time.Hour},
	}
	hostapd := serveAP(t, hostapdtest.Config{Stations: stations})

	client, err := NewClient(t.TempDir(), hostapd.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	got, err := client.Stations()
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != len(stations) {
		t.Fatalf("got %d stations; want %d", len(got), len(stations))
	}

	for i, expected := range stations {
		t.Logf("got Stations[%d]: %+v", i, got[i])
		if got[i].MAC != expected.MAC {
			t.Errorf("got Stations[%d].MAC %s; want %s", i, got[i].MAC, expected.MAC)
		}
		if got[i].Associated != expected.Associated {
			t.Errorf("got Stations[%d].Associated %v; want %v", i, got[i].Associated, expected.Associated)
		}
		if got[i].Signal != expected.Signal {
			t.Errorf("got Stations[%d].Signal %d; want %d", i, got[i].Signal, expected.Signal)
		}
		if got[i].Connected != expected.Connected {
			t.Errorf("got Stations[%d].Connected %s; want %s", i, got[i].Connected, expected.Connected)
		}
	}

	if got := client.Interface(); got != "hap" {
		t.Errorf("got Interface %q; want %q", got, "hap")
	}
}

func TestClient_Stations_unsupported(t *testing.T) {
	hostapd := serveAP(t, hostapdtest.Config{Unsupported: []string{"STA-FIRST"}})

	client, err := NewClient(t.TempDir(), hostapd.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.Stations()
	var unknown ErrUnknownCmd
	if !errors.As(err, &unknown) {
		t.Fatalf("Stations() error %v; want ErrUnknownCmd", err)
	}
}

func TestClient_Attach(t *testing.T) {
	hostapd := serveAP(t, hostapdtest.Config{})

	client, err := NewClient(t.TempDir(), hostapd.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, attachCancel := context.WithCancel(context.Background())
	defer attachCancel()
	attachEvents := make(chan Event)
	attachErr := make(chan error, 1)
	go func() {
		defer close(attachErr)
		err := client.Attach(ctx, func(event Event) error {
			attachEvents <- event
			return nil
		})
		if err != nil {
			attachErr <- err
		}
	}()

	events := []Event{
		EventStationConnect{
			raw: fmt.Sprintf("%s 00:00:00:00:00:FF", eventAPStaConnected),
			MAC: presence.MustParseMAC("00:00:00:00:00:ff"),
		},
		EventStationDisconnect{
			raw: fmt.Sprintf("%s 00:FF:AA:CC:DD:11", eventAPStaDisconnected),
			MAC: presence.MustParseMAC("00:ff:aa:cc:dd:11"),
		},
		EventUnrecognized("not-a-real-event"),
		EventStationConnect{
			raw: fmt.Sprintf("%s FF:FF:FF:FF:FF:FF", eventAPStaConnected),
			MAC: presence.MustParseMAC("ff:ff:ff:ff:ff:ff"),
		},
	}

	for _, event := range events {
		if err := emit(hostapd, event.Raw()); err != nil {
			t.Fatal(err)
		}

		select {
		case got := <-attachEvents:
			if got != event {
				t.Fatalf("got event %#v; expected %#v", got, event)
			}
		case err := <-attachErr:
			t.Fatalf("Attach() error: %v", err)
		case <-time.After(time.Second):
			t.Fatal("timeout reading from events chan")
		}
	}

	attachCancel()

	// Allow Attach time to finish.
	select {
	case <-attachErr:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for attach to finish")
	}
}

func TestClient_Attach_term(t *testing.T) {
	hostapd := serveAP(t, hostapdtest.Config{})

	client, err := NewClient(t.TempDir(), hostapd.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, attachCancel := context.WithCancel(context.Background())
	defer attachCancel()
	attachEvents := make(chan Event)
	attachErr := make(chan error, 1)
	go func() {
		err := client.Attach(ctx, func(event Event) error {
			attachEvents <- event
			return nil
		})
		if err != nil {
			attachErr <- err
		}
	}()

	if err := emit(hostapd, EventTerminating(eventWPATerminating).Raw()); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-attachEvents:
		t.Fatalf("unexpected received event: %q", got)
	case err := <-attachErr:
		if !errors.Is(err, ErrTerminating) {
			t.Fatalf("Attach() error %q; want %q", err, ErrTerminating)
		}
		t.Logf("Attach() error (expected) %q", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for attach error")
	}
}

// serveAP starts a fake hostapd for the duration of the test.
func serveAP(t *testing.T, cfg hostapdtest.Config) *hostapdtest.AP {
	t.Helper()
	ap, err := hostapdtest.Listen(path.Join(t.TempDir(), "hap"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ap.Close() })
	go ap.Serve()
	return ap
}

// emit sends a raw event once a client has attached.
func emit(ap *hostapdtest.AP, event string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return ap.Emit(ctx, event)
}
