package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/int-brain-lab/bpod/pkg/bpod"
	"github.com/int-brain-lab/bpod/pkg/bridge"
	"github.com/int-brain-lab/bpod/pkg/serialio"
)

func openDevice(c *cli.Context) (*bpod.Bpod, error) {
	registry := bpod.NewRegistry(log.StandardLogger())
	dev, err := registry.Open(c.String("port"))
	if err != nil {
		return nil, fmt.Errorf("failed to open Bpod device: %w", err)
	}
	return dev, nil
}

func runDiscover(c *cli.Context) error {
	ports, err := serialio.Discover(log.StandardLogger())
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return bpod.ErrNoDevice
	}
	for _, port := range ports {
		fmt.Println(port)
	}
	return nil
}

func runInfo(c *cli.Context) error {
	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("Port:             %s\n", dev.Port())
	fmt.Printf("Machine:          %s\n", dev.Version.MachineTypeLabel)
	fmt.Printf("Firmware:         %d.%d\n", dev.Version.Major, dev.Version.Minor)
	if dev.Version.PCBRevision != nil {
		fmt.Printf("PCB revision:     %d\n", *dev.Version.PCBRevision)
	}
	fmt.Printf("Max states:       %d\n", dev.Hardware.MaxStates)
	fmt.Printf("Timer period:     %d us\n", dev.Hardware.TimerPeriod)
	fmt.Printf("Inputs:           %v\n", dev.Inputs.Names())
	fmt.Printf("Outputs:          %v\n", dev.Outputs.Names())
	return nil
}

func runRead(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: bpod read <channel>")
	}
	name := c.Args().Get(0)

	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Close()

	in, ok := dev.Inputs.Get(name)
	if !ok {
		return fmt.Errorf("no input channel named %q (have %v)", name, dev.Inputs.Names())
	}

	state, err := in.Read()
	if err != nil {
		return err
	}
	fmt.Println(state)
	return nil
}

func runOverride(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: bpod override <channel> <value>")
	}
	name := c.Args().Get(0)

	value, err := strconv.ParseUint(c.Args().Get(1), 10, 8)
	if err != nil {
		return fmt.Errorf("value must be 0-255: %v", err)
	}

	dev, err := openDevice(c)
	if err != nil {
		return err
	}
	defer dev.Close()

	out, ok := dev.Outputs.Get(name)
	if !ok {
		return fmt.Errorf("no output channel named %q (have %v)", name, dev.Outputs.Names())
	}
	return out.Override(uint8(value))
}

func runBridge(c *cli.Context) error {
	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := bpod.NewRegistry(log.StandardLogger())
	defer registry.Close()

	br, err := bridge.New(db, registry, log.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to create bridge: %v", err)
	}
	defer br.Close()

	if err := br.Connect(); err != nil {
		return err
	}

	// Run until interrupted
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("Shutting down bridge...")
	return br.Disconnect()
}

func main() {
	app := cli.App{
		Name:  "bpod",
		Usage: "Interact with a Bpod finite state machine",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Serial port of the Bpod device (default: discover)",
				EnvVars: []string{"BPOD_PORT"},
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "discover",
				Usage:  "List serial ports with a Bpod device attached",
				Action: runDiscover,
			},
			{
				Name:   "info",
				Usage:  "Show firmware and hardware information",
				Action: runInfo,
			},
			{
				Name:      "read",
				Usage:     "Read the state of an input channel",
				ArgsUsage: "<channel>",
				Action:    runRead,
			},
			{
				Name:      "override",
				Usage:     "Override the state of an output channel",
				ArgsUsage: "<channel> <value>",
				Action:    runOverride,
			},
			{
				Name:  "bridge",
				Usage: "Publish input events to an MQTT broker",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "db",
						Usage:   "Path to the configuration database",
						Value:   "bpod.db",
						EnvVars: []string{"BPOD_DB"},
					},
				},
				Action: runBridge,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
