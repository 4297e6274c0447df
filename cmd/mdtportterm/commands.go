package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/manager"
	"github.com/scandyna/multidiagtools-sub015/port"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// connectTimeout bounds the wait for the first connection.
func connectTimeout(cfg *port.Config) time.Duration {
	n := time.Duration(max(cfg.ConnectMaxTry(), 1))
	return n*cfg.ConnectTimeout() + n*(n-1)/2*cfg.ConnectTimeoutStep() + time.Second
}

// startAndConnect starts m and waits until the port is connected.
func startAndConnect(ctx context.Context, m *manager.Manager) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, connectTimeout(m.Config()))
	defer cancel()

	if err := m.WaitState(wctx, manager.Ready, manager.PortError, manager.PortClosed); err != nil {
		return fmt.Errorf("wait for connection: %w", err)
	}
	if st := m.State(); !st.IsConnected() {
		if err := m.CurrentError(); err != nil {
			return err
		}

		return fmt.Errorf("not connected, state %s", st)
	}

	return nil
}

// waitWritten waits until the writer sent n frames, so that Close does not
// drop a queued request.
func waitWritten(ctx context.Context, m *manager.Manager, n uint64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for m.Metrics().FrameSendCount.Load() < n {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request not written: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	return nil
}

func waitPending(ctx context.Context, m *manager.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for m.PendingCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// withPayloadEOF appends the end of frame sequence to ASCII requests.
func withPayloadEOF(cfg *port.Config, payload string) []byte {
	b := []byte(payload)
	if cfg.FrameType() == frame.TypeASCII {
		b = append(b, cfg.EndOfFrame()...)
	}

	return b
}

func newQueryCmd(o *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <request>...",
		Short: "Send a request and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildSession(o, changedFlags(cmd))
			if err != nil {
				return err
			}
			b, err := s.newBackend()
			if err != nil {
				return err
			}
			m, err := manager.New(b, s.cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := startAndConnect(ctx, m); err != nil {
				return err
			}

			reply, err := m.Query(ctx, withPayloadEOF(s.cfg, strings.Join(args, " ")), o.ReplyTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", reply)

			return nil
		},
	}
}

func newMonitorCmd(o *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print state changes and received frames, send the lines read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := buildSession(o, changedFlags(cmd))
			if err != nil {
				return err
			}
			b, err := s.newBackend()
			if err != nil {
				return err
			}
			m, err := manager.New(b, s.cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			ctx, cancel := signalContext()
			defer cancel()

			return monitor(ctx, m, cmd.InOrStdin(), cmd.OutOrStdout(), o.ReplyTimeout)
		},
	}
}

// monitor sends each line of in and prints replies and state changes to out
// until in is exhausted, ctx is done or the port is closed. Once in is
// exhausted it waits up to linger for the pending replies.
func monitor(ctx context.Context, m *manager.Manager, in io.Reader, out io.Writer, linger time.Duration) error {
	m.AddStateHandler(func(_ manager.State, info manager.StateInfo) {
		fmt.Fprintf(out, "# %s (%s)\n", info.Label, info.LedColor)
	})
	m.AddConnectionAttemptHandler(func(attempt, maxTry int) {
		fmt.Fprintf(out, "# connection attempt %d/%d\n", attempt, maxTry)
	})
	m.AddReplyHandler(func(id int, data []byte) {
		fmt.Fprintf(out, "<%d> %s\n", id, data)
	})

	if err := m.Start(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)

		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = m.WaitState(ctx, manager.PortClosed)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return m.CurrentError()
		case line, ok := <-lines:
			if !ok {
				waitPending(ctx, m, linger)
				return nil
			}

			tx := m.NewTransaction()
			tx.Data = append(tx.Data, withPayloadEOF(m.Config(), line)...)
			id, err := m.SendData(ctx, tx)
			if err != nil {
				m.RestoreTransaction(tx)
				fmt.Fprintf(out, "# send failed: %v\n", err)

				continue
			}
			fmt.Fprintf(out, ">%d> %s\n", id, line)
		}
	}
}

func newModbusCmd(o *cliOptions) *cobra.Command {
	var unitID uint8

	cmd := &cobra.Command{
		Use:   "modbus",
		Short: "MODBUS/TCP requests",
	}
	cmd.PersistentFlags().Uint8Var(&unitID, "unit", 0xFF, "unit identifier")

	run := func(fn func(ctx context.Context, m *manager.ModbusTCPManager, args []uint16) (string, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			values, err := parseUint16s(args)
			if err != nil {
				return err
			}

			s, err := buildSession(o, changedFlags(cmd))
			if err != nil {
				return err
			}
			host, portNum, err := splitModbusAddress(s.address)
			if err != nil {
				return err
			}
			m, err := manager.NewModbusTCP(host, portNum, s.cfg)
			if err != nil {
				return err
			}
			defer m.Close()
			m.SetUnitID(unitID)
			m.SetTimeout(o.ReplyTimeout)

			ctx, cancel := signalContext()
			defer cancel()

			if err := startAndConnect(ctx, m.Manager); err != nil {
				return err
			}

			res, err := fn(ctx, m, values)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)

			return nil
		}
	}

	readBits := func(read func(*manager.ModbusTCPManager, context.Context, uint16, int) ([]bool, error)) func(context.Context, *manager.ModbusTCPManager, []uint16) (string, error) {
		return func(ctx context.Context, m *manager.ModbusTCPManager, args []uint16) (string, error) {
			bits, err := read(m, ctx, args[0], int(args[1]))
			if err != nil {
				return "", err
			}

			return formatBits(bits), nil
		}
	}
	readRegisters := func(read func(*manager.ModbusTCPManager, context.Context, uint16, int) ([]uint16, error)) func(context.Context, *manager.ModbusTCPManager, []uint16) (string, error) {
		return func(ctx context.Context, m *manager.ModbusTCPManager, args []uint16) (string, error) {
			values, err := read(m, ctx, args[0], int(args[1]))
			if err != nil {
				return "", err
			}

			return fmt.Sprint(values), nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "read-coils <start> <count>",
			Short: "Read coils (function 0x01)",
			Args:  cobra.ExactArgs(2),
			RunE:  run(readBits((*manager.ModbusTCPManager).ReadCoils)),
		},
		&cobra.Command{
			Use:   "read-discrete <start> <count>",
			Short: "Read discrete inputs (function 0x02)",
			Args:  cobra.ExactArgs(2),
			RunE:  run(readBits((*manager.ModbusTCPManager).ReadDiscreteInputs)),
		},
		&cobra.Command{
			Use:   "read-holding <start> <count>",
			Short: "Read holding registers (function 0x03)",
			Args:  cobra.ExactArgs(2),
			RunE:  run(readRegisters((*manager.ModbusTCPManager).ReadHoldingRegisters)),
		},
		&cobra.Command{
			Use:   "read-input <start> <count>",
			Short: "Read input registers (function 0x04)",
			Args:  cobra.ExactArgs(2),
			RunE:  run(readRegisters((*manager.ModbusTCPManager).ReadInputRegisters)),
		},
		&cobra.Command{
			Use:   "write-coil <address> <0|1>",
			Short: "Write a single coil (function 0x05)",
			Args:  cobra.ExactArgs(2),
			RunE: run(func(ctx context.Context, m *manager.ModbusTCPManager, args []uint16) (string, error) {
				return "ok", m.WriteSingleCoil(ctx, args[0], args[1] != 0)
			}),
		},
		&cobra.Command{
			Use:   "write-register <address> <value>",
			Short: "Write a single holding register (function 0x06)",
			Args:  cobra.ExactArgs(2),
			RunE: run(func(ctx context.Context, m *manager.ModbusTCPManager, args []uint16) (string, error) {
				return "ok", m.WriteSingleRegister(ctx, args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "write-registers <start> <value>...",
			Short: "Write holding registers (function 0x10)",
			Args:  cobra.MinimumNArgs(2),
			RunE: run(func(ctx context.Context, m *manager.ModbusTCPManager, args []uint16) (string, error) {
				return "ok", m.WriteMultipleRegisters(ctx, args[0], args[1:])
			}),
		},
	)

	return cmd
}

// splitModbusAddress splits "host[:port]". A missing port selects 502.
func splitModbusAddress(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, manager.DefaultModbusTCPPort, nil //nolint:nilerr
	}

	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 0xFFFF {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}

	return host, n, nil
}

// parseUint16s parses decimal or 0x prefixed hexadecimal values.
func parseUint16s(args []string) ([]uint16, error) {
	values := make([]uint16, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", a, err)
		}
		values[i] = uint16(v)
	}

	return values, nil
}

func formatBits(bits []bool) string {
	var sb strings.Builder
	for _, b := range bits {
		if b {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}

	return sb.String()
}

func newUsbtmcCmd(o *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usbtmc",
		Short: "USBTMC requests over the usbfs node of an instrument (/dev/bus/usb/BBB/DDD)",
	}

	open := func(cmd *cobra.Command) (*manager.UsbtmcManager, error) {
		s, err := buildSession(o, changedFlags(cmd))
		if err != nil {
			return nil, err
		}

		return manager.NewUsbtmc(s.address, s.cfg)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "query <command>...",
			Short: "Write a command and read the reply",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := open(cmd)
				if err != nil {
					return err
				}
				defer m.Close()

				ctx, cancel := signalContext()
				defer cancel()

				if err := startAndConnect(ctx, m.Manager); err != nil {
					return err
				}

				reply, err := m.Query(ctx, []byte(strings.Join(args, " ")+"\n"), o.ReplyTimeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s", reply)

				return nil
			},
		},
		&cobra.Command{
			Use:   "write <command>...",
			Short: "Write a command",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := open(cmd)
				if err != nil {
					return err
				}
				defer m.Close()

				ctx, cancel := signalContext()
				defer cancel()

				if err := startAndConnect(ctx, m.Manager); err != nil {
					return err
				}
				if err := m.Write(ctx, []byte(strings.Join(args, " ")+"\n")); err != nil {
					return err
				}

				return waitWritten(ctx, m.Manager, 1, o.ReplyTimeout)
			},
		},
	)

	return cmd
}
