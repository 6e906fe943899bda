// ABOUTME: Standalone DAC discovery CLI
// ABOUTME: Prints the live DAC directory as devices come and go
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpenILDA/ildaplay-go/pkg/discovery"
)

func main() {
	listener := discovery.NewListener(discovery.Config{})

	err := listener.Subscribe(func(dacs map[string]discovery.DAC) {
		if len(dacs) == 0 {
			fmt.Println("no DACs on the network")
			return
		}
		for id, d := range dacs {
			fmt.Printf("dac %s  %-15s  hw %d  sw %d  buffer %d  max %d pps  %s\n",
				id, d.IPAddr, d.HardwareRev, d.SoftwareRev,
				d.BufferCapacity, d.MaxPointRate, d.LastStatus.PlaybackState)
		}
		fmt.Println()
	})
	if err != nil {
		log.Fatalf("discovery failed: %v", err)
	}

	fmt.Println("Listening for Ether Dream broadcasts on UDP 7654, Ctrl-C to stop...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}
