// ABOUTME: Lists the capture and playback devices miniaudio can open
// ABOUTME: Marks the defaults pcmlink uses when streaming or listening
package main

import (
	"fmt"
	"os"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio/device"
	"github.com/sirupsen/logrus"
)

func main() {
	backend, err := device.NewMalgo(device.Options{})
	if err != nil {
		logrus.WithField("error", err).Fatal("Failed to initialize audio")
	}
	defer backend.Close()

	devices, err := backend.Devices()
	if err != nil {
		logrus.WithField("error", err).Error("Failed to enumerate devices")
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No audio devices found")
		return
	}

	fmt.Printf("%-8s %-7s %s\n", "KIND", "DEFAULT", "NAME")
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		fmt.Printf("%-8s %-7s %s\n", d.Direction, def, d.Name)
	}
}
