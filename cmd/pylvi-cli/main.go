// pylvi-cli is a one-shot command line client for LVI heaters.
// Credentials come from LVI_EMAIL and LVI_PASSWORD (a .env file in the
// working directory is honored).
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hwaastad/pylvi/lvi"
)

func main() {
	args, out := parseOutputFlags(os.Args[1:])
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := connect(ctx)
	defer client.Close()

	switch args[0] {
	case "smarthomes":
		smarthomesCmd(ctx, client, out)
	case "heaters":
		heatersCmd(ctx, client, out)
	case "status":
		statusCmd(ctx, client, out, args[1:])
	case "set-temp":
		setTempCmd(ctx, client, args[1:])
	case "set-mode":
		setModeCmd(ctx, client, args[1:])
	case "set-fan":
		setFanCmd(ctx, client, args[1:])
	case "power":
		powerCmd(ctx, client, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func connect(ctx context.Context) *lvi.Client {
	email := os.Getenv("LVI_EMAIL")
	password := os.Getenv("LVI_PASSWORD")
	if email == "" || password == "" {
		fatal("credentials", fmt.Errorf("LVI_EMAIL and LVI_PASSWORD must be set"))
	}

	var opts []lvi.Option
	if base := os.Getenv("LVI_BASE_URL"); base != "" {
		opts = append(opts, lvi.WithBaseURL(base))
	}

	client, err := lvi.New(email, password, opts...)
	if err != nil {
		fatal("new client", err)
	}
	if err := client.Connect(ctx); err != nil {
		fatal("connect", err)
	}
	return client
}

func smarthomesCmd(ctx context.Context, client *lvi.Client, out outputMode) {
	refresh(ctx, client)

	homes := client.Smarthomes()
	if out.json {
		out.printJSON(homes)
		return
	}
	rows := [][]string{{"ID", "LABEL", "MAC"}}
	for _, home := range homes {
		rows = append(rows, []string{home.ID, home.Label, home.MACAddress})
	}
	out.table(rows)
}

func heatersCmd(ctx context.Context, client *lvi.Client, out outputMode) {
	refresh(ctx, client)

	heaters := sortedHeaters(client)
	if out.json {
		out.printJSON(heaters)
		return
	}
	rows := [][]string{{"DEVICE", "NAME", "AMBIENT", "TARGET", "MODE", "POWER", "HEATING"}}
	for _, h := range heaters {
		rows = append(rows, []string{
			h.DeviceID,
			h.Name,
			celsius(h.AmbientTemp),
			celsius(h.TargetTemp),
			h.Mode.String(),
			onOff(h.PowerOn),
			onOff(h.HeatingUp),
		})
	}
	out.table(rows)
}

func statusCmd(ctx context.Context, client *lvi.Client, out outputMode, args []string) {
	if len(args) < 1 {
		fatal("status", fmt.Errorf("missing device id"))
	}
	refresh(ctx, client)

	heater, ok := client.Heater(args[0])
	if !ok {
		fatal("status", fmt.Errorf("unknown device %q", args[0]))
	}
	if out.json {
		out.printJSON(heater)
		return
	}

	minSet, maxSet := heater.SetpointRange()
	fmt.Printf("device: %s\n", heater.DeviceID)
	fmt.Printf("name: %s\n", heater.Name)
	fmt.Printf("smarthome: %s (zone %d)\n", heater.SmarthomeID, heater.ZoneNumber)
	fmt.Printf("ambient: %.1f°C\n", heater.AmbientTemp)
	fmt.Printf("floor: %.1f°C\n", heater.FloorTemp)
	fmt.Printf("target: %.1f°C (range %.1f..%.1f)\n", heater.TargetTemp, minSet, maxSet)
	fmt.Printf("mode: %s\n", heater.Mode)
	fmt.Printf("fan: %s\n", heater.FanSpeed)
	fmt.Printf("power: %s\n", onOff(heater.PowerOn))
	fmt.Printf("heating: %s\n", onOff(heater.HeatingUp))
	fmt.Printf("reachable: %s\n", strconv.FormatBool(heater.Reachable))
	if heater.PowerWatts > 0 {
		fmt.Printf("consumption: %.0fW\n", heater.PowerWatts)
	}
	if !heater.LastUpdate.IsZero() {
		fmt.Printf("updated: %s\n", heater.LastUpdate.Format(time.RFC3339))
	}
}

func setTempCmd(ctx context.Context, client *lvi.Client, args []string) {
	if len(args) < 2 {
		fatal("set-temp", fmt.Errorf("usage: set-temp <device_id> <celsius>"))
	}
	celsius, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fatal("set-temp", fmt.Errorf("bad temperature %q", args[1]))
	}
	refresh(ctx, client)

	if err := client.SetTemperature(ctx, args[0], celsius); err != nil {
		fatal("set-temp", err)
	}
	fmt.Printf("%s target set to %.1f°C\n", args[0], celsius)
}

func setModeCmd(ctx context.Context, client *lvi.Client, args []string) {
	if len(args) < 2 {
		fatal("set-mode", fmt.Errorf("usage: set-mode <device_id> <comfort|eco|frost|boost|program|off>"))
	}
	mode, err := lvi.ParseMode(args[1])
	if err != nil {
		fatal("set-mode", err)
	}
	refresh(ctx, client)

	if err := client.SetControl(ctx, args[0], lvi.ControlFlags{Mode: &mode}); err != nil {
		fatal("set-mode", err)
	}
	fmt.Printf("%s mode set to %s\n", args[0], mode)
}

func setFanCmd(ctx context.Context, client *lvi.Client, args []string) {
	if len(args) < 2 {
		fatal("set-fan", fmt.Errorf("usage: set-fan <device_id> <auto|low|medium|high>"))
	}
	fan, err := lvi.ParseFanSpeed(args[1])
	if err != nil {
		fatal("set-fan", err)
	}
	refresh(ctx, client)

	if err := client.SetControl(ctx, args[0], lvi.ControlFlags{FanSpeed: &fan}); err != nil {
		fatal("set-fan", err)
	}
	fmt.Printf("%s fan set to %s\n", args[0], fan)
}

func powerCmd(ctx context.Context, client *lvi.Client, args []string) {
	if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
		fatal("power", fmt.Errorf("usage: power <device_id> <on|off>"))
	}
	on := args[1] == "on"
	refresh(ctx, client)

	if err := client.SetControl(ctx, args[0], lvi.ControlFlags{PowerOn: &on}); err != nil {
		fatal("power", err)
	}
	fmt.Printf("%s powered %s\n", args[0], args[1])
}

func refresh(ctx context.Context, client *lvi.Client) {
	if err := client.UpdateHeaters(ctx); err != nil {
		fatal("update heaters", err)
	}
}

func sortedHeaters(client *lvi.Client) []lvi.Heater {
	registry := client.Heaters()
	heaters := make([]lvi.Heater, 0, len(registry))
	for _, h := range registry {
		heaters = append(heaters, h)
	}
	sort.Slice(heaters, func(i, j int) bool { return heaters[i].DeviceID < heaters[j].DeviceID })
	return heaters
}

func parseOutputFlags(args []string) ([]string, outputMode) {
	var out outputMode
	remaining := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--json" || arg == "-json" {
			out.json = true
			continue
		}
		remaining = append(remaining, arg)
	}
	return remaining, out
}

func usage() {
	fmt.Println("pylvi-cli [--json] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  smarthomes")
	fmt.Println("  heaters")
	fmt.Println("  status <device_id>")
	fmt.Println("  set-temp <device_id> <celsius>")
	fmt.Println("  set-mode <device_id> <comfort|eco|frost|boost|program|off>")
	fmt.Println("  set-fan <device_id> <auto|low|medium|high>")
	fmt.Println("  power <device_id> <on|off>")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
