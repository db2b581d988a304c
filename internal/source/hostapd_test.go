package source

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/awilliams/openwrt-presence/internal/hostapd"
	"github.com/awilliams/openwrt-presence/internal/hostapd/hostapdtest"
	"github.com/awilliams/openwrt-presence/internal/logging"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

func newHostAPD(t *testing.T, dir, name string, stations ...hostapdtest.Station) *hostapdtest.AP {
	t.Helper()
	ap, err := hostapdtest.Listen(filepath.Join(dir, name), hostapdtest.Config{Stations: stations})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ap.Close() })
	go ap.Serve()
	return ap
}

func TestHostapd_Backfill(t *testing.T) {
	dir := t.TempDir()
	newHostAPD(t, dir, "phy0-ap0",
		hostapdtest.Station{MAC: presence.MustParseMAC("aa:bb:cc:dd:ee:01"), Associated: true, Connected: time.Minute},
		hostapdtest.Station{MAC: presence.MustParseMAC("aa:bb:cc:dd:ee:02")},
	)
	newHostAPD(t, dir, "phy1-ap0",
		hostapdtest.Station{MAC: presence.MustParseMAC("aa:bb:cc:dd:ee:03"), Associated: true, Connected: time.Hour},
	)

	// The directory is searched for sockets.
	h, err := NewHostapd("ap-office", []string{dir}, t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	now := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	got, err := h.Backfill(context.Background(), now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	want := []presence.Event{
		{Kind: presence.Connect, MAC: presence.MustParseMAC("aa:bb:cc:dd:ee:01"), Node: "ap-office", Timestamp: now.Add(-time.Minute)},
		{Kind: presence.Connect, MAC: presence.MustParseMAC("aa:bb:cc:dd:ee:03"), Node: "ap-office", Timestamp: now.Add(-time.Hour)},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events; want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %+v; want %+v", i, got[i], want[i])
		}
	}
}

func TestHostapd_Events(t *testing.T) {
	dir := t.TempDir()
	ap0 := newHostAPD(t, dir, "phy0-ap0")

	h, err := NewHostapd("ap-office", []string{ap0.Addr}, t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	now := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	events := make(chan presence.Event)
	errc := make(chan error, 1)
	go func() {
		errc <- h.Events(context.Background(), func(ev presence.Event) error {
			events <- ev
			return nil
		})
	}()

	send := func(msg string) {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := ap0.Emit(ctx, msg); err != nil {
			t.Fatalf("emit %q: %v", msg, err)
		}
	}

	mac := presence.MustParseMAC("aa:bb:cc:dd:ee:01")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ap0.Connect(ctx, mac, -48); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		want := presence.Event{Kind: presence.Connect, MAC: mac, Node: "ap-office", Timestamp: now}
		if ev != want {
			t.Errorf("got %+v; want %+v", ev, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Non-station events are dropped; termination ends the run.
	send("<3>CTRL-EVENT-EAP-STARTED aa:bb:cc:dd:ee:01")
	if err := ap0.Terminate(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case err := <-errc:
		if !errors.Is(err, hostapd.ErrTerminating) {
			t.Errorf("got error %v; want %v", err, hostapd.ErrTerminating)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Events to return")
	}
}

func TestNewHostapd_NoSockets(t *testing.T) {
	if _, err := NewHostapd("ap", []string{t.TempDir()}, "", logging.Discard()); err == nil {
		t.Error("expected error for a directory without sockets")
	}
}
