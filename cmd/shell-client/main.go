// Command shell-client drives remote shell sessions on a shell service:
// start an interactive shell, run a one-shot command, and list, join, or
// kill existing sessions (§6).
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/opensat/satcore/pkg/datagram"
	"github.com/opensat/satcore/pkg/wire"
)

var (
	serviceIP   string
	servicePort uint16
	channelFlag uint32
	signalFlag  int
	commandFlag string
)

func main() {
	log := hclog.Default().Named("shell-client")

	root := &cobra.Command{
		Use:           "shell-client",
		Short:         "drive remote shell sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&serviceIP, "service-ip", "i", "0.0.0.0", "shell service address")
	pf.Uint16VarP(&servicePort, "service-port", "p", 8010, "shell service port")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "start an interactive shell session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := wire.MintChannelID()
			sock, peer, err := dial()
			if err != nil {
				return err
			}
			defer sock.Close()
			if err := spawnRemote(sock, peer, channel, "/bin/sh", nil); err != nil {
				return err
			}
			return interact(sock, peer, channel)
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run one command and exit with its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := wire.MintChannelID()
			sock, peer, err := dial()
			if err != nil {
				return err
			}
			defer sock.Close()
			if err := spawnRemote(sock, peer, channel, "/bin/sh", []string{"-c", commandFlag}); err != nil {
				return err
			}
			code, err := drainUntilExit(sock, channel)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	runCmd.Flags().StringVarP(&commandFlag, "command", "c", "", "command to run")
	runCmd.MarkFlagRequired("command")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list running sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, peer, err := dial()
			if err != nil {
				return err
			}
			defer sock.Close()
			data, err := wire.EncodeListRequest()
			if err != nil {
				return err
			}
			if err := sock.SendBytesTo(data, peer); err != nil {
				return err
			}
			res, err := sock.RecvWithTimeout(5 * time.Second)
			if err != nil {
				return err
			}
			msg, err := wire.DecodeShellMessage(res.Data)
			if err != nil {
				return err
			}
			for _, e := range msg.Entries {
				fmt.Printf("%d\t%s\t%d\n", e.Channel, e.Path, e.Pid)
			}
			return nil
		},
	}

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "attach to an existing session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, peer, err := dial()
			if err != nil {
				return err
			}
			defer sock.Close()
			return interact(sock, peer, channelFlag)
		},
	}
	joinCmd.Flags().Uint32VarP(&channelFlag, "channel", "c", 0, "channel to join")
	joinCmd.MarkFlagRequired("channel")

	killCmd := &cobra.Command{
		Use:   "kill",
		Short: "signal a session's child process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, peer, err := dial()
			if err != nil {
				return err
			}
			defer sock.Close()
			var sig *int
			if signalFlag != 0 {
				sig = &signalFlag
			}
			data, err := wire.EncodeKill(channelFlag, sig)
			if err != nil {
				return err
			}
			return sock.SendBytesTo(data, peer)
		},
	}
	killCmd.Flags().Uint32VarP(&channelFlag, "channel", "c", 0, "channel to kill")
	killCmd.Flags().IntVarP(&signalFlag, "signal", "s", 0, "signal number, default SIGKILL")
	killCmd.MarkFlagRequired("channel")

	root.AddCommand(startCmd, runCmd, listCmd, joinCmd, killCmd)

	if err := root.Execute(); err != nil {
		log.Error("operation failed", "error", err)
		fmt.Fprintf(os.Stderr, "Shell Protocol Error: %v\n", err)
		os.Exit(1)
	}
}

func dial() (*datagram.Socket, *net.UDPAddr, error) {
	sock, err := datagram.Listen("0.0.0.0:0", 0)
	if err != nil {
		return nil, nil, err
	}
	peer, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", serviceIP, servicePort))
	if err != nil {
		sock.Close()
		return nil, nil, err
	}
	return sock, peer, nil
}

// spawnRemote asks the service to start the child and waits for the pid
// acknowledgement.
func spawnRemote(sock *datagram.Socket, peer *net.UDPAddr, channel uint32, path string, args []string) error {
	data, err := wire.EncodeSpawn(channel, path, args)
	if err != nil {
		return err
	}
	if err := sock.SendBytesTo(data, peer); err != nil {
		return err
	}
	res, err := sock.RecvWithTimeout(5 * time.Second)
	if err != nil {
		return err
	}
	msg, err := wire.DecodeShellMessage(res.Data)
	if err != nil {
		return err
	}
	switch msg.Op {
	case wire.OpPid:
		fmt.Printf("Channel %d: pid %d\n", channel, msg.Pid)
		return nil
	case wire.OpError:
		return fmt.Errorf("%s", msg.Message)
	default:
		return fmt.Errorf("unexpected %s reply to spawn", msg.Op)
	}
}

// interact pumps the local terminal into the remote channel and the remote
// stdout/stderr back, until the child exits. When local stdin closes it sends
// EOF and keeps waiting for the exit message.
func interact(sock *datagram.Socket, peer *net.UDPAddr, channel uint32) error {
	done := make(chan int, 1)
	go func() {
		for {
			res, err := sock.RecvWithTimeout(time.Second)
			if err != nil {
				continue
			}
			msg, derr := wire.DecodeShellMessage(res.Data)
			if derr != nil || msg.Channel != channel {
				continue
			}
			switch msg.Op {
			case wire.OpStdout:
				if msg.HasData {
					fmt.Print(msg.Data)
				}
			case wire.OpStderr:
				if msg.HasData {
					fmt.Fprint(os.Stderr, msg.Data)
				}
			case wire.OpExit:
				fmt.Printf("Session %d exited: code %d signal %d\n", channel, msg.ExitCode, msg.ExitSignal)
				done <- msg.ExitCode
				return
			case wire.OpError:
				fmt.Fprintf(os.Stderr, "Shell Protocol Error: %s\n", msg.Message)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text() + "\n"
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			var data []byte
			var err error
			if !ok {
				data, err = wire.EncodeStdin(channel, "", true)
			} else {
				data, err = wire.EncodeStdin(channel, line, false)
			}
			if err != nil {
				return err
			}
			if err := sock.SendBytesTo(data, peer); err != nil {
				return err
			}
			if !ok {
				// Stdin is closed; wait for the remote exit cascade.
				<-done
				return nil
			}
		case <-done:
			return nil
		}
	}
}

// drainUntilExit prints remote output until the exit message arrives.
func drainUntilExit(sock *datagram.Socket, channel uint32) (int, error) {
	deadline := time.Now().Add(5 * time.Minute)
	for time.Now().Before(deadline) {
		res, err := sock.RecvWithTimeout(time.Second)
		if err != nil {
			continue
		}
		msg, derr := wire.DecodeShellMessage(res.Data)
		if derr != nil || msg.Channel != channel {
			continue
		}
		switch msg.Op {
		case wire.OpStdout:
			if msg.HasData {
				fmt.Print(msg.Data)
			}
		case wire.OpStderr:
			if msg.HasData {
				fmt.Fprint(os.Stderr, msg.Data)
			}
		case wire.OpExit:
			return msg.ExitCode, nil
		case wire.OpError:
			return 0, fmt.Errorf("%s", msg.Message)
		}
	}
	return 0, fmt.Errorf("no exit from remote command")
}
