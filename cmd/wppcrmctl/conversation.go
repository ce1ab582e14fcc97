package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/matheus3301/wppcrm/internal/message"
	"github.com/spf13/cobra"
)

func init() {
	var limit int
	openCmd := &cobra.Command{
		Use:   "open CONVERSATION_ID",
		Short: "Open a conversation and print its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.OpenConversation(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printMessages(os.Stdout, resp)
			})
		},
	}
	openCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent messages")
	rootCmd.AddCommand(openCmd)

	messagesCmd := &cobra.Command{
		Use:   "messages CONVERSATION_ID",
		Short: "Print the messages held for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListMessages(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printMessages(os.Stdout, resp)
			})
		},
	}
	messagesCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent messages")
	rootCmd.AddCommand(messagesCmd)

	closeCmd := &cobra.Command{
		Use:   "close CONVERSATION_ID",
		Short: "Stop streaming a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				return c.CloseConversation(ctx, args[0])
			})
		},
	}
	rootCmd.AddCommand(closeCmd)

	var msgType, mediaURL, fileName string
	sendCmd := &cobra.Command{
		Use:   "send CONVERSATION_ID [TEXT]",
		Short: "Send a message; it shows at once and rolls back on failure",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.SendMessageRequest{ConversationID: args[0], Type: msgType, MediaURL: mediaURL, FileName: fileName}
			if len(args) == 2 {
				req.Text = args[1]
			}
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.SendMessage(ctx, req)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(os.Stdout, resp)
				}
				fmt.Printf("%s %s\n", resp.TempID, resp.State)
				return nil
			})
		},
	}
	sendCmd.Flags().StringVar(&msgType, "type", "", "message type (text, image, document, ...)")
	sendCmd.Flags().StringVar(&mediaURL, "url", "", "media URL")
	sendCmd.Flags().StringVar(&fileName, "file-name", "", "document file name")
	rootCmd.AddCommand(sendCmd)

	statusCmd := &cobra.Command{
		Use:   "send-status TEMP_ID",
		Short: "Show the state of a send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.SendStatus(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(resp.State)
				return nil
			})
		},
	}
	rootCmd.AddCommand(statusCmd)

	outboxCmd := &cobra.Command{
		Use:   "outbox CONVERSATION_ID",
		Short: "Show the send journal of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListOutbox(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(os.Stdout, resp)
				}
				for _, e := range resp.Entries {
					fmt.Printf("%s  %-14s %s  %s %s\n", formatMs(e.CreatedAt), e.State, e.TempID, e.Body, e.ErrorMessage)
				}
				return nil
			})
		},
	}
	outboxCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	rootCmd.AddCommand(outboxCmd)
}

func printMessages(out io.Writer, resp *api.ListMessagesResponse) error {
	if jsonFlag {
		return outputJSON(out, resp)
	}
	for _, m := range resp.Messages {
		_, _ = fmt.Fprintln(out, formatMessage(m))
	}
	return nil
}

func formatMessage(m message.Envelope) string {
	who := m.AuthorName
	if who == "" {
		who = "contact"
	}
	if m.IsPrivateNote {
		who += " (note)"
	}
	body := m.Body()
	if body == "" {
		body = "[" + string(m.Type) + "]"
	}
	if m.Edited {
		body += " (edited)"
	}
	return fmt.Sprintf("%s  %s: %s", formatMs(m.CreatedAtMs), who, body)
}
