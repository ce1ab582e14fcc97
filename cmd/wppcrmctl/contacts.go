package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	var tags []string
	var query string
	var page int
	contactsCmd := &cobra.Command{
		Use:   "contacts",
		Short: "List the contacts visible to the operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListContacts(ctx, &api.ListContactsRequest{Tags: tags, Query: query, Page: page - 1})
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(os.Stdout, resp)
				}
				printContacts(os.Stdout, resp)
				return nil
			})
		},
	}
	contactsCmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "filter by tag (repeatable; all, unread, mine, unassigned, group, ...)")
	contactsCmd.Flags().StringVarP(&query, "query", "q", "", "search name and phone")
	contactsCmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	rootCmd.AddCommand(contactsCmd)

	employeesCmd := &cobra.Command{
		Use:   "employees",
		Short: "List employees with their lead quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListEmployees(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(os.Stdout, resp)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "NAME\tROLE\tQUOTA\tASSIGNED")
				for _, e := range resp.Employees {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", e.Name, e.Role, e.QuotaLeads, e.AssignedContacts)
				}
				return w.Flush()
			})
		},
	}
	rootCmd.AddCommand(employeesCmd)
}

func printContacts(out io.Writer, resp *api.ListContactsResponse) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPHONE\tTAGS\tUNREAD\tLAST")
	for _, c := range resp.Contacts {
		name := c.Name
		if c.Pinned {
			name = "* " + name
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			c.ID, name, c.Phone, strings.Join(c.Tags, ","), c.UnreadCount, formatMs(c.LastMessageAtMs))
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "page %d/%d, %d contacts\n", resp.Page+1, max(resp.PageCount, 1), resp.Total)
}

func formatMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
