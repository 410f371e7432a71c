package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ciphersync/internal/domain"
)

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <handle>",
		Short: "Show the stored conversation with a handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := domain.ParseHandle(args[0])
			if err != nil {
				return err
			}
			msgs, err := wire.Messages.ListMessages(cmd.Context(), handle)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Println(formatMessage(m))
			}
			return nil
		},
	}
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List messages not yet confirmed by any recipient device",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := wire.Messages.QueryMessagesByState(cmd.Context(), domain.StateSending)
			if err != nil {
				return err
			}
			for _, p := range pending {
				fmt.Printf("%-16s %s (attempts %d)\n", p.Handle, formatMessage(p.Message), p.Message.Attempts)
			}
			return nil
		},
	}
}

func formatMessage(m domain.LocalMessage) string {
	body := string(m.Data)
	if m.FileInfo != nil {
		body = fmt.Sprintf("[%s %s, %d bytes]", m.FileInfo.MIMEType, m.FileInfo.Name, m.FileInfo.Size)
	}
	return fmt.Sprintf("%s %-7s %-8s %s",
		m.Timestamp.Local().Format(time.DateTime), m.Owner, m.State, body)
}
