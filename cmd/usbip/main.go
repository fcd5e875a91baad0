// Command usbip is the thin CLI wrapper around the virtual host
// controller's control surface (spec §6): attach, detach, port, list.
// It issues exactly one control-surface request per verb and exits with
// one of the codes §6 defines.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	vhci "github.com/usbip-win/vhci"
)

// Exit codes (§6): 0 success; 1 usage; 2 communication error; 3
// protocol/driver error; 4 forwarder-launch error.
const (
	exitOK              = 0
	exitUsage           = 1
	exitCommunication   = 2
	exitProtocolOrDriver = 3
	exitForwarderLaunch = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var logLevel string

	root := &cobra.Command{
		Use:           "usbip",
		Short:         "client for the USB/IP virtual host controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log verbosity")

	var controller *vhci.Controller
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log, err := vhci.NewLogger(logLevel)
		if err != nil {
			return err
		}
		cfg, err := vhci.NewConfig(cmd.Context())
		if err != nil {
			return err
		}
		controller = vhci.NewController(log.WithField("component", "cli"), cfg)
		return nil
	}

	root.AddCommand(
		attachCmd(&controller),
		detachCmd(&controller),
		portCmd(&controller),
		listCmd(&controller),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "usbip:", err)
		return exitCodeFor(err)
	}
	return exitOK
}

func exitCodeFor(err error) int {
	switch {
	case vhci.IsUsageError(err):
		return exitUsage
	case vhci.IsNetworkError(err):
		return exitCommunication
	case vhci.IsProtocolError(err):
		return exitProtocolOrDriver
	case vhci.IsForwarderError(err):
		return exitForwarderLaunch
	default:
		return exitCommunication
	}
}

func attachCmd(controller **vhci.Controller) *cobra.Command {
	var host, service, busid, serial string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "import a remote USB device and plug it in locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" || busid == "" {
				return fmt.Errorf("%w: --host and --busid are required", vhci.ErrInvalidRequest)
			}
			if service == "" {
				service = "3240"
			}
			port, err := (*controller).PluginHardware(cmd.Context(), vhci.PlugRequest{
				Host: host, Service: service, BusID: busid, Serial: serial,
			})
			if err != nil {
				return err
			}
			fmt.Println(port)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "remote server host")
	cmd.Flags().StringVar(&service, "service", "3240", "remote server port/service")
	cmd.Flags().StringVar(&busid, "busid", "", "remote device bus id")
	cmd.Flags().StringVar(&serial, "serial", "", "serial number override")
	return cmd
}

func detachCmd(controller **vhci.Controller) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detach [port]",
		Short: "unplug one imported device, or all of them if port is omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			port := 0
			if len(args) > 0 {
				p, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("%w: invalid port %q", vhci.ErrInvalidRequest, args[0])
				}
				port = p
			}
			return (*controller).PlugoutHardware(port)
		},
	}
	return cmd
}

func portCmd(controller **vhci.Controller) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port <port>",
		Short: "report a port's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("%w: invalid port %q", vhci.ErrInvalidRequest, args[0])
			}
			status, err := (*controller).GetPortStatus(port)
			if err != nil {
				return err
			}
			fmt.Printf("enabled=%v connected=%v\n", status.Enabled, status.Connected)
			return nil
		},
	}
	return cmd
}

func listCmd(controller **vhci.Controller) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "enumerate imported devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dev := range (*controller).GetImportedDevices() {
				fmt.Printf("%d\t%s\t%s:%s\n", dev.Port, dev.BusID, dev.Host, dev.Service)
			}
			return nil
		},
	}
	return cmd
}
