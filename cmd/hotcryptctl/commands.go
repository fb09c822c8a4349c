package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hotcrypt/internal/engine"
	"hotcrypt/internal/ipc"
)

var statusMetrics bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *ipc.IPCClient) error {
			st, err := c.Status()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			if statusMetrics {
				printMetrics(cmd.OutOrStdout(), st.Metrics)
			}
			return nil
		})
	},
}

func printStatus(w io.Writer, st *ipc.StatusResponse) {
	e := st.Engine

	printSection(w, "DAEMON")
	printField(w, "Version", valueStyle.Sprint(st.Version))
	printField(w, "Uptime", st.Uptime.Round(time.Second))
	printField(w, "Clients", st.Clients)

	printSection(w, "SHORTCUTS")
	printField(w, "Shortcuts", onOff(e.Enabled, "ENABLED", "DISABLED"))
	printField(w, "Listener", e.ListenerState)
	for _, b := range e.Bindings {
		printField(w, "Binding", valueStyle.Sprint(b))
	}
	printField(w, "Pipeline", e.PipelineState)

	printSection(w, "PASSPHRASE")
	printField(w, "Passphrase", onOff(e.Configured, "CONFIGURED", "NOT SET"))
	printField(w, "Biometry", onOff(e.BiometryAvailable, "available", "unavailable"))
	if e.SessionActive {
		printField(w, "Session", fmt.Sprintf("unlocked until %s", e.SessionExpiresAt.Format(time.Kitchen)))
	} else {
		printField(w, "Session", "locked")
	}

	printSection(w, "PERMISSION")
	if e.PermissionGranted {
		printField(w, "Input access", onOff(true, "GRANTED", ""))
	} else {
		printField(w, "Input access", onOff(false, "", "DENIED"))
		if e.PermissionReason != "" {
			printField(w, "Reason", e.PermissionReason)
		}
	}

	if o := e.LastOutcome; o != nil {
		printSection(w, "LAST OPERATION")
		printField(w, "Direction", o.Direction)
		printField(w, "Result", o.Result)
		if o.Error != "" {
			printField(w, "Error", o.Error)
		}
		printField(w, "Took", o.Elapsed.Round(time.Millisecond))
		printField(w, "At", o.At.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
}

func printMetrics(w io.Writer, m map[string]float64) {
	printSection(w, "METRICS")
	if len(m) == 0 {
		printField(w, "Metrics", "none reported")
		fmt.Fprintln(w)
		return
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s %s\n", name, valueStyle.Sprint(strconv.FormatFloat(m[name], 'g', -1, 64)))
	}
	fmt.Fprintln(w)
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Register the global shortcuts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *ipc.IPCClient) error {
			if err := c.Enable(); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Shortcuts enabled")
			return nil
		})
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Unregister the global shortcuts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *ipc.IPCClient) error {
			if err := c.Disable(); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Shortcuts disabled")
			return nil
		})
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Forget the unlocked passphrase; the next use authenticates again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *ipc.IPCClient) error {
			if err := c.Lock(); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Session locked")
			return nil
		})
	},
}

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Disable shortcuts and delete the stored passphrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
			"This deletes the stored passphrase. Text encrypted with it stays encrypted. Continue?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
		return withClient(func(c *ipc.IPCClient) error {
			stop := startSpinner("Resetting...")
			err := c.Reset()
			stop()
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "hotcrypt reset")
			return nil
		})
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read the daemon configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *ipc.IPCClient) error {
			if err := c.Reload(); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Configuration reloaded")
			return nil
		})
	},
}

var watchKinds []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := make([]engine.EventKind, 0, len(watchKinds))
		for _, k := range watchKinds {
			kinds = append(kinds, engine.EventKind(strings.ToLower(k)))
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return withClient(func(c *ipc.IPCClient) error {
			if err := c.Subscribe(kinds...); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-c.Events():
					if !ok {
						return ipc.ErrConnectionLost
					}
					printEvent(w, ev)
				}
			}
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusMetrics, "metrics", false, "also print daemon counters")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	watchCmd.Flags().StringSliceVar(&watchKinds, "kind", nil, "only show these kinds (notification, state, outcome)")
}

func printEvent(w io.Writer, ev *engine.Event) {
	ts := labelStyle.Sprint(ev.Time.Format("15:04:05"))
	switch ev.Kind {
	case engine.EventOutcome:
		if o := ev.Outcome; o != nil {
			result := successStyle.Sprint(o.Result)
			if o.Error != "" {
				result = errorStyle.Sprint(o.Result) + " " + o.Error
			}
			fmt.Fprintf(w, "%s %-12s %s %s (%s)\n", ts, ev.Kind, o.Direction, result, o.Elapsed.Round(time.Millisecond))
			return
		}
	case engine.EventNotification:
		fmt.Fprintf(w, "%s %-12s %s: %s\n", ts, ev.Kind, valueStyle.Sprint(ev.Title), ev.Message)
		return
	}
	fmt.Fprintf(w, "%s %-12s %s\n", ts, ev.Kind, ev.Message)
}
