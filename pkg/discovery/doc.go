// ABOUTME: DAC discovery package
// ABOUTME: Passive broadcast listener with a TTL-expiring directory
// Package discovery finds Ether Dream DACs on the local network.
//
// DACs announce themselves once a second on UDP port 7654; the listener
// keeps a directory of everything heard in the last three seconds and
// pushes snapshots to subscribers as devices come and go.
//
// Example:
//
//	l := discovery.NewListener(discovery.Config{})
//	err := l.Subscribe(func(dacs map[string]discovery.DAC) {
//		log.Printf("%d dac(s) on the network", len(dacs))
//	})
package discovery
