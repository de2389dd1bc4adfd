// Command adbsession is a client for the ADB host server. It lists and
// manages devices, runs commands on them, and pushes files, without shelling
// out to adb itself.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"adbsession/adb/adbhost"
)

var (
	serverAddr  string
	serial      string
	useUSB      bool
	useEmulator bool
	verbose     bool
)

var root = &cobra.Command{
	Use:           "adbsession",
	Short:         "Talk to an ADB host server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	},
}

func init() {
	root.PersistentFlags().StringVarP(&serverAddr, "server", "H", defaultServerAddr(), "address of the adb host server")
	root.PersistentFlags().StringVarP(&serial, "serial", "s", os.Getenv("ANDROID_SERIAL"), "use the device with the given serial")
	root.PersistentFlags().BoolVarP(&useUSB, "usb", "d", false, "use the USB device")
	root.PersistentFlags().BoolVarP(&useEmulator, "emulator", "e", false, "use the TCP/IP device")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// defaultServerAddr mirrors the environment variables understood by the adb
// client itself.
func defaultServerAddr() string {
	host := "127.0.0.1"
	if h := os.Getenv("ANDROID_ADB_SERVER_ADDRESS"); h != "" {
		host = h
	}
	port := "5037"
	if p := os.Getenv("ANDROID_ADB_SERVER_PORT"); p != "" {
		port = p
	}
	return net.JoinHostPort(host, port)
}

func dialer() *adbhost.Dialer {
	return &adbhost.Dialer{Addr: serverAddr}
}

func transport() adbhost.Transport {
	switch {
	case serial != "":
		return adbhost.Serial(serial)
	case useUSB:
		return adbhost.TransportUSB
	case useEmulator:
		return adbhost.TransportLocal
	}
	return adbhost.TransportAny
}

// device returns a dialer for the selected device with its feature set
// loaded.
func device(ctx context.Context) (*adbhost.TransportDialer, error) {
	srv := adbhost.Server(dialer(), transport())
	if err := srv.LoadFeatures(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
