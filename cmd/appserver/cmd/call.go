package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/sirosfoundation/go-appserver/internal/engine"
	"github.com/sirosfoundation/go-appserver/internal/modes"
	"github.com/sirosfoundation/go-appserver/internal/modes/slave"
	"github.com/sirosfoundation/go-appserver/pkg/config"
)

var (
	callMaster    string
	callTransport string
	callWait      time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <service> <method> [args...]",
	Short: "Send one call to a master and print the calls it sends back",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCall,
}

func init() {
	callCmd.Flags().StringVar(&callMaster, "master", "", "Master engine address (default from config)")
	callCmd.Flags().StringVar(&callTransport, "transport", "", "stream, datagram or websocket (default from config)")
	callCmd.Flags().DurationVar(&callWait, "wait", time.Second, "How long to wait for replies")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(func(c *config.Config) {
		c.Mode = string(modes.ModeSlave)
		c.Slave.Name = ""
		if callMaster != "" {
			c.Slave.MasterAddress = callMaster
		}
		if callTransport != "" {
			c.Slave.Transport = callTransport
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	out := cmd.OutOrStdout()
	runner, err := slave.New(modes.Options{
		Config: cfg,
		Logger: logger,
		OnCall: func(msg *engine.RPCMessage) { printCall(out, msg) },
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := runner.Connect(ctx); err != nil {
		_ = runner.Shutdown(ctx)
		return err
	}
	conn, err := runner.Conn()
	if err == nil {
		callArgs := make([]any, 0, len(args)-2)
		for _, a := range args[2:] {
			callArgs = append(callArgs, a)
		}
		err = conn.Send(args[0], args[1], callArgs...)
	}
	if err == nil {
		time.Sleep(callWait)
	}
	return multierr.Append(err, runner.Shutdown(ctx))
}

func printCall(w io.Writer, msg *engine.RPCMessage) {
	fmt.Fprintf(w, "%s %s\n", msg.RPCName(), strings.Join(msg.Args(), " "))
}
