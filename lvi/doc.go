// Package lvi is a client for the LVI cloud API (e3.lvi.eu) that controls
// LVI electric heaters. It authenticates an account, discovers the
// registered heaters, reads temperature telemetry, and issues
// set-temperature and set-mode commands.
//
// A Client owns a single authenticated session. The usual flow is:
//
//	client, err := lvi.New(email, password)
//	if err != nil { ... }
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close()
//
//	if err := client.UpdateHeaters(ctx); err != nil { ... }
//	for id, heater := range client.Heaters() {
//		...
//	}
//	if err := client.SetTemperature(ctx, id, 21.5); err != nil { ... }
//
// The client never retries on its own: every transport or vendor failure
// is surfaced as a typed error and the caller decides what to do next.
package lvi
