package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/oocsi/client"
	"github.com/luma/oocsi/discovery"
	"github.com/luma/oocsi/internal/env"
)

var errNoServer = errors.New("could not connect to an OOCSI server")

var (
	clientName      string
	clientHost      string
	clientPort      int
	clientMulticast bool
	clientReconnect bool
	replyTimeout    time.Duration
)

// clientFlags adds the flags shared by every command that connects.
func clientFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringVarP(&clientName, "name", "n", "", "The client name, random when empty")
	flags.StringVarP(&clientHost, "host", "a", "localhost", "The server to connect to")
	flags.IntVarP(&clientPort, "port", "p", 4444, "The server port")
	flags.BoolVarP(&clientMulticast, "multicast", "m", false, "Find the server through multicast announcements")
	flags.BoolVar(&clientReconnect, "reconnect", true, "Reconnect when the connection is lost")
}

func init() {
	clientFlags(ListenCmd)
	clientFlags(SendCmd)
	clientFlags(ClientsCmd)
	clientFlags(ChannelsCmd)

	ClientsCmd.Flags().DurationVar(&replyTimeout, "timeout", time.Second, "How long to wait for the server's reply")
	ChannelsCmd.Flags().DurationVar(&replyTimeout, "timeout", time.Second, "How long to wait for the server's reply")
}

// applyClientFlags lets flags the user set override the configuration.
func applyClientFlags(cmd *cobra.Command, conf *env.Config) {
	flags := cmd.Flags()

	if flags.Changed("name") {
		conf.Name = clientName
	}

	if flags.Changed("host") {
		conf.Host = clientHost
	}

	if flags.Changed("port") {
		conf.Port = clientPort
	}

	if flags.Changed("multicast") {
		conf.Multicast = clientMulticast
	}

	if flags.Changed("reconnect") {
		conf.Reconnect = clientReconnect
	}
}

func connectClient(ctx context.Context, cmd *cobra.Command, reconnect bool) (*client.Client, *zap.Logger, error) {
	conf, log, err := setup(ctx)
	if err != nil {
		return nil, nil, err
	}

	applyClientFlags(cmd, conf)

	opts := conf.ClientOptions(log)
	opts.Reconnect = reconnect && opts.Reconnect

	c, err := client.New(opts)
	if err != nil {
		return nil, nil, err
	}

	connected := false
	if conf.Multicast {
		connected = c.ConnectMulticast(ctx, discovery.Options{Log: log})
	}

	if !connected {
		connected = c.Connect(ctx, conf.Host, conf.Port)
	}

	if !connected {
		return nil, nil, errNoServer
	}

	return c, log, nil
}

var ListenCmd = &cobra.Command{
	Use:   "listen CHANNEL...",
	Short: "Subscribe to channels and log every event",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		c, log, err := connectClient(ctx, cmd, true)
		if err != nil {
			return err
		}

		events := log.Named("events")
		handler := client.HandlerFunc(func(event *client.Event) error {
			fields := []zap.Field{
				zap.String("channel", event.Channel),
				zap.String("sender", event.Sender),
				zap.Time("time", event.Time()),
				zap.Any("data", event.Data),
			}

			if event.Raw != "" {
				fields = append(fields, zap.String("raw", event.Raw))
			}

			events.Info("Event", fields...)
			return nil
		})

		for _, channel := range args {
			if err := c.Subscribe(channel, handler); err != nil {
				return err
			}
		}

		c.SubscribeToSelf(handler)

		<-ctx.Done()
		signalStop()

		return c.Disconnect()
	},
}

var SendCmd = &cobra.Command{
	Use:   "send CHANNEL MESSAGE",
	Short: "Send a message to a channel",
	Long: `Send a message to a channel. A MESSAGE that is a JSON object is
delivered as data, anything else is delivered as it is.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c, _, err := connectClient(ctx, cmd, false)
		if err != nil {
			return err
		}

		c.Send(args[0], args[1])

		return c.Disconnect()
	},
}

var ClientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List the clients connected to the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printReply(cmd, (*client.Client).ListClients)
	},
}

var ChannelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the channels on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printReply(cmd, (*client.Client).ListChannels)
	},
}

func printReply(cmd *cobra.Command, request func(*client.Client, time.Duration) (string, bool)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, _, err := connectClient(ctx, cmd, false)
	if err != nil {
		return err
	}

	defer c.Disconnect()

	reply, ok := request(c, replyTimeout)
	if !ok {
		return fmt.Errorf("no reply within %s", replyTimeout)
	}

	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}
