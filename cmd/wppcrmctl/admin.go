package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/matheus3301/wppcrm/internal/config"
	"github.com/matheus3301/wppcrm/internal/profile"
	"github.com/spf13/cobra"
)

func init() {
	assignCmd := &cobra.Command{
		Use:   "assign CONTACT_ID EMPLOYEE",
		Short: "Assign a contact to an employee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				return c.Assign(ctx, args[0], args[1])
			})
		},
	}
	rootCmd.AddCommand(assignCmd)

	unassignCmd := &cobra.Command{
		Use:   "unassign CONTACT_ID EMPLOYEE",
		Short: "Take a contact away from an employee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				return c.Unassign(ctx, args[0], args[1])
			})
		},
	}
	rootCmd.AddCommand(unassignCmd)

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recount assigned contacts per employee and fix drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.Reconcile(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(os.Stdout, resp)
				}
				if len(resp.Drifts) == 0 {
					fmt.Println("No drift.")
				}
				for _, d := range resp.Drifts {
					fmt.Printf("%s: %d -> %d\n", d.Employee, d.Was, d.Now)
				}
				return nil
			})
		},
	}
	rootCmd.AddCommand(reconcileCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show daemon status and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.GetStats(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(os.Stdout, resp)
				}
				printStats(os.Stdout, resp)
				return nil
			})
		},
	}
	rootCmd.AddCommand(statsCmd)

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Write documents from a JSON export into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			docs, err := readDocuments(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.PutDocuments(ctx, docs)
				if err != nil {
					return err
				}
				fmt.Printf("%d documents written\n", resp.Written)
				return nil
			})
		},
	}
	rootCmd.AddCommand(importCmd)

	var prefix string
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := profileName()
			if err != nil {
				return err
			}
			c, err := api.Dial(profile.SocketPath(name))
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			enc := json.NewEncoder(os.Stdout)
			return c.WatchEvents(ctx, prefix, func(e api.EventView) error {
				return enc.Encode(e)
			})
		},
	}
	watchCmd.Flags().StringVar(&prefix, "prefix", "", "event kind prefix (outbox., ledger., roster., ...)")
	rootCmd.AddCommand(watchCmd)

	var force bool
	initCmd := &cobra.Command{
		Use:   "init COMPANY_ID OPERATOR",
		Short: "Write a profile config.toml with default settings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := profileName()
			if err != nil {
				return err
			}
			path := profile.ConfigPath(name)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			p := config.DefaultProfile()
			p.CompanyID = args[0]
			p.Operator.Name = args[1]
			if err := config.Save(path, p); err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}

// readDocuments accepts either a list of {path, data} objects or an object
// keyed by document path.
func readDocuments(r io.Reader) ([]api.Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var list []api.Document
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var byPath map[string]map[string]any
	if err := json.Unmarshal(raw, &byPath); err != nil {
		return nil, fmt.Errorf("want a list of {path, data} or an object keyed by path: %w", err)
	}
	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	docs := make([]api.Document, 0, len(paths))
	for _, p := range paths {
		docs = append(docs, api.Document{Path: p, Data: byPath[p]})
	}
	return docs, nil
}

func printStats(out io.Writer, s *api.StatsResponse) {
	_, _ = fmt.Fprintf(out, "Profile:   %s\n", s.Profile)
	_, _ = fmt.Fprintf(out, "Operator:  %s\n", s.Operator)
	_, _ = fmt.Fprintf(out, "Uptime:    %dms\n", s.UptimeMs)
	_, _ = fmt.Fprintf(out, "Contacts:  %d (%d bot stopped)\n", s.Contacts, s.BotStopped)
	_, _ = fmt.Fprintf(out, "Employees: %d\n", s.Employees)
	_, _ = fmt.Fprintf(out, "Open:      %v\n", s.OpenConversations)
	states := make([]string, 0, len(s.Outbox))
	for st := range s.Outbox {
		states = append(states, st)
	}
	sort.Strings(states)
	for _, st := range states {
		_, _ = fmt.Fprintf(out, "Outbox %-14s %d\n", st+":", s.Outbox[st])
	}
}
