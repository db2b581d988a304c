// hostapd-mock serves a fake hostapd control interface on a Unix socket,
// for running openwrt-presence with source type hostapd without an access
// point. Stations are connected and disconnected from STDIN.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/awilliams/openwrt-presence/internal/hostapd/hostapdtest"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

const instructions = `
Commands:
c <mac> [signal]  Connect a station (default signal -50)
d <mac>           Disconnect a station
l                 List stations
t                 Send CTRL-EVENT-TERMINATING and exit
q                 Exit

> `

const defaultSignal = -50

func main() {
	sockPath := pflag.String("sock", "hostapd.sock", "Path of the mock control socket")
	ssid := pflag.String("ssid", "Test AP", "Mock SSID")
	bssid := pflag.String("bssid", "54:65:73:74:41:50", "Mock BSSID")
	connected := pflag.StringSlice("connected", nil, "MACs of stations associated at startup")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var stations []hostapdtest.Station
	for _, s := range *connected {
		mac, err := presence.ParseMAC(s)
		if err != nil {
			bail(err)
		}
		stations = append(stations, hostapdtest.Station{
			MAC:        mac,
			Associated: true,
			Signal:     defaultSignal,
			Connected:  time.Minute,
		})
	}

	ap, err := hostapdtest.Listen(*sockPath, hostapdtest.Config{
		Status: hostapdtest.Status{
			State:      "ENABLED",
			Channel:    42,
			SSID:       *ssid,
			BSSID:      *bssid,
			MaxTxPower: 11,
		},
		Stations: stations,
	})
	if err != nil {
		bail(err)
	}
	defer func() {
		ap.Close()
		os.Remove(ap.Addr)
	}()

	go func() {
		if err := ap.Serve(); err != nil {
			bail(err)
		}
	}()

	fmt.Printf("Mock hostapd listening at %s\nWaiting for a client to attach...\n", ap.Addr)
	select {
	case <-ap.Attached():
		fmt.Print(instructions)
	case <-ctx.Done():
		return
	}

	lines := readLines(ctx)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			done, err := command(ctx, ap, strings.Fields(line))
			if err != nil {
				fmt.Printf("Error: %s\n", err)
			}
			if done {
				return
			}
			fmt.Print(instructions)

		case <-ctx.Done():
			return

		case <-ap.Detached():
			fmt.Println("Client detached. Exiting...")
			return
		}
	}
}

// command runs one line of input. done is true when the mock should exit.
func command(ctx context.Context, ap *hostapdtest.AP, fields []string) (done bool, err error) {
	if len(fields) == 0 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	switch cmd, args := fields[0], fields[1:]; {
	case cmd == "c" && len(args) >= 1:
		mac, err := presence.ParseMAC(args[0])
		if err != nil {
			return false, err
		}
		rssi := defaultSignal
		if len(args) > 1 {
			if rssi, err = strconv.Atoi(args[1]); err != nil {
				return false, fmt.Errorf("signal: %w", err)
			}
		}
		return false, ap.Connect(ctx, mac, rssi)

	case cmd == "d" && len(args) == 1:
		mac, err := presence.ParseMAC(args[0])
		if err != nil {
			return false, err
		}
		return false, ap.Disconnect(ctx, mac)

	case cmd == "l":
		for _, s := range ap.Stations() {
			fmt.Printf("%s  signal=%d  associated=%v\n", s.MAC, s.Signal, s.Associated)
		}
		return false, nil

	case cmd == "t":
		err := ap.Terminate(ctx)
		time.Sleep(time.Second)
		return true, err

	case cmd == "q":
		return true, nil
	}
	return false, fmt.Errorf("unrecognized command %q", strings.Join(fields, " "))
}

func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	scanner := bufio.NewScanner(os.Stdin)
	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func bail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(1)
}
