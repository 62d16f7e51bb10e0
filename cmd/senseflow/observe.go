package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/SenseFlow/internal/adapters/transport/udp"
	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/pkg/senseflow"
)

const observeExample = `  senseflow observe accelerometer --freq 50
  senseflow observe pressure --oneshot`

func newObserveCmd() *cobra.Command {
	var (
		addr    string
		token   string
		freq    int
		oneshot bool
		opts    senseflow.StreamOptions
	)

	cmd := &cobra.Command{
		Use:     "observe <sensor>",
		Short:   "Subscribe to a sensor over UDP and print decoded payloads",
		Example: observeExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sensor, err := senseflow.ParseSensorType(args[0])
			if err != nil {
				return err
			}
			c, err := udp.Dial(addr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if oneshot {
				if err := c.Fetch(token, sensor); err != nil {
					return err
				}
				n, err := c.Receive(5 * time.Second)
				if err != nil {
					return err
				}
				return printPayload(out, n.Payload)
			}

			if err := c.Subscribe(token, sensor, freq, opts); err != nil {
				return err
			}
			defer func() {
				_ = c.Cancel(token, sensor)
			}()
			return receiveLoop(ctx, out, c)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5683", "Runtime UDP address")
	cmd.Flags().StringVar(&token, "token", strconv.FormatInt(time.Now().UnixNano()%1e8, 36), "Request token (up to 8 bytes)")
	cmd.Flags().IntVar(&freq, "freq", 0, "Requested frequency in Hz (0 uses the runtime default)")
	cmd.Flags().BoolVar(&oneshot, "oneshot", false, "Fetch a single reading instead of observing")
	cmd.Flags().BoolVar(&opts.Confirmable, "confirmable", false, "Ask for confirmable notifications")
	cmd.Flags().BoolVar(&opts.RepeatLast, "repeat-last", false, "Repeat the last reading when no fresh sample arrived")
	cmd.Flags().IntVar(&opts.BatchSize, "batch", 0, "Samples per packet (0 uses the runtime default)")
	return cmd
}

func receiveLoop(ctx context.Context, out io.Writer, c *udp.Client) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := c.Receive(500 * time.Millisecond)
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			continue
		}
		if err != nil {
			return err
		}
		if err := printPayload(out, n.Payload); err != nil {
			fmt.Fprintf(out, "undecodable payload (%d bytes): %v\n", len(n.Payload), err)
		}
	}
}

func printPayload(out io.Writer, payload []byte) error {
	msg, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	switch {
	case msg.Datapoint != nil:
		dp := msg.Datapoint
		fmt.Fprintf(out, "DATAPOINT sensor=%s ts=%d", dp.Sensor, dp.Timestamp)
		for _, r := range dp.Readings {
			fmt.Fprintf(out, " %+v", r)
		}
		fmt.Fprintln(out)
	case msg.Report != nil:
		r := msg.Report
		fmt.Fprintf(out, "SENDREPORT sensor=%s ntp=%s rtp=%d packets=%d octets=%d cname=%s\n",
			r.Sensor, r.NTP.Format(time.RFC3339Nano), r.RTPTimestamp, r.PacketCount, r.OctetCount, r.CName)
	}
	return nil
}
