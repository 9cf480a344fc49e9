package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/spf13/cobra"
)

type options struct {
	addr    string
	timeout time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "listenctl",
		Short:         "Control a loqa-listen dictation node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", "http://localhost:8080", "loqa-listen HTTP address")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		listenCommand(opts, "start", "Start a recognition attempt"),
		listenCommand(opts, "stop", "Stop the current attempt"),
		listenCommand(opts, "toggle", "Start or stop depending on the current state"),
		stateCommand(opts),
		watchCommand(opts),
		draftCommand(opts),
		confirmCommand(opts),
		shareCommand(opts),
	)
	return root
}

func listenCommand(opts *options, action, short string) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := newClient(opts.addr, opts.timeout).listen(cmd.Context(), action, language)
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	if action != "stop" {
		cmd.Flags().StringVarP(&language, "language", "l", "", "recognition language (default from server config)")
	}
	return cmd
}

func stateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the current recognition state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := newClient(opts.addr, opts.timeout).state(cmd.Context())
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func watchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream state changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return newClient(opts.addr, 0).watch(ctx, func(snap protocol.StateSnapshot) {
				printState(out, snap)
			})
		},
	}
}

func draftCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "draft",
		Short: "Print the draft text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := newClient(opts.addr, opts.timeout).draft(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func confirmCommand(opts *options) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "confirm [candidate]",
		Short: "Append a candidate to the draft",
		Long: `Append a candidate to the draft followed by the configured terminator.
Pass the text as an argument, or --index to pick one of the current candidates.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate := strings.Join(args, " ")
			if index < 0 && candidate == "" {
				return fmt.Errorf("either a candidate or --index is required")
			}
			text, err := newClient(opts.addr, opts.timeout).confirm(cmd.Context(), candidate, index)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().IntVarP(&index, "index", "i", -1, "index into the current candidates")
	return cmd
}

func shareCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "share",
		Short: "Share the draft text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := newClient(opts.addr, opts.timeout).share(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shared")
			return nil
		},
	}
}

func printState(w io.Writer, snap protocol.StateSnapshot) {
	status := "idle"
	if snap.IsSpeaking {
		status = "listening"
	}
	fmt.Fprintf(w, "%s", status)
	if snap.Error != "" {
		fmt.Fprintf(w, " error=%q", snap.Error)
	}
	fmt.Fprintln(w)
	for i, text := range snap.SpokenText {
		fmt.Fprintf(w, "  [%d] %s\n", i, text)
	}
}
