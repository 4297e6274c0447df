// Command mdtportterm is a terminal for instruments reached through a serial
// line, a TCP socket, a device file or a USB bulk interface.
//
//	mdtportterm --backend tcp --address 192.168.1.10:5025 query '*IDN?'
//	mdtportterm --config bench.toml monitor
//	mdtportterm modbus --address 192.168.1.20 read-holding 0 4
//	mdtportterm usbtmc --address /dev/bus/usb/001/004 query '*IDN?'
package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/scandyna/multidiagtools-sub015/logger"
)

var exampleUsage = strings.TrimSpace(`
  mdtportterm --backend tcp --address 192.168.1.10:5025 query '*IDN?'
  mdtportterm --backend serial --address /dev/ttyUSB0 --baud 115200 --eof '\r\n' monitor
  mdtportterm --config $HOME/.mdtportterm.toml query 'MEAS:VOLT?'
  mdtportterm modbus --address 192.168.1.20 read-coils 0 8
  mdtportterm usbtmc --address /dev/bus/usb/001/004 query '*IDN?'
  mdtportterm --backend device --address /dev/usbtmc0 query '*IDN?'
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newRootCmd() *cobra.Command {
	opts := defaultCLIOptions()

	root := &cobra.Command{
		Use:           "mdtportterm",
		Short:         "Talk to instruments over serial lines, TCP sockets and device files",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindFlags(root.PersistentFlags(), opts)

	root.AddCommand(
		newQueryCmd(opts),
		newMonitorCmd(opts),
		newModbusCmd(opts),
		newUsbtmcCmd(opts),
	)

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		logger.Error("mdtportterm", "error", err)
		os.Exit(1)
	}
}

// changedFlags returns the names of the flags set on the command line.
func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	return changed
}
