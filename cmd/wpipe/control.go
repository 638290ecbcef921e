package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wp-labs/wp-open-api/connector/source"
	natsconnector "github.com/wp-labs/wp-open-api/connectors/nats"
	"github.com/wp-labs/wp-open-api/natsclient"
)

func newControlCmd(opts *rootOptions) *cobra.Command {
	var (
		natsURL string
		subject string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "control <stop|isolate|resume|seek POSITION>",
		Short: "Send a control event to a running pipeline over NATS",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := parseControlEvent(args)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := natsclient.NewClient(natsURL, natsclient.WithLogger(opts.logger), natsclient.WithMaxReconnects(0))
			if err != nil {
				return fmt.Errorf("create NATS client: %w", err)
			}
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect to NATS: %w", err)
			}
			defer func() { _ = client.Close(context.WithoutCancel(ctx)) }()

			if err := natsconnector.SendControl(ctx, client, subject, ev); err != nil {
				return fmt.Errorf("send %s: %w", ev, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s applied\n", ev)
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", getEnv("WPIPE_NATS_URLS", "nats://localhost:4222"),
		"NATS server URL(s) (env: WPIPE_NATS_URLS)")
	cmd.Flags().StringVar(&subject, "subject", natsconnector.DefaultControlSubject, "Control subject")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Time to wait for the reply")
	return cmd
}

func parseControlEvent(args []string) (source.ControlEvent, error) {
	action := args[0]
	if action != natsconnector.ActionSeek && len(args) > 1 {
		return nil, fmt.Errorf("%s takes no position", action)
	}
	switch action {
	case natsconnector.ActionStop:
		return source.Stop{}, nil
	case natsconnector.ActionIsolate:
		return source.Isolate{Paused: true}, nil
	case natsconnector.ActionResume:
		return source.Isolate{Paused: false}, nil
	case natsconnector.ActionSeek:
		if len(args) < 2 {
			return nil, fmt.Errorf("seek needs a position")
		}
		pos, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seek position %q: %w", args[1], err)
		}
		return source.Seek{Position: source.Offset(pos)}, nil
	default:
		return nil, fmt.Errorf("unknown control action %q", action)
	}
}
