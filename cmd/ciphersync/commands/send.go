package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"ciphersync/internal/domain"
)

// send <handle> [message]: encrypt for every device of handle and send.
func sendCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "send <handle> [message]",
		Short: "Encrypt and send a message to every device of a handle",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			to, err := domain.ParseHandle(args[0])
			if err != nil {
				return err
			}
			msg, err := buildMessage(args[1:], file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c, err := wire.Connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			// Same order as a reconnect: flush what is pending first.
			if _, _, err := c.OnConnect(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}

			sent, outcome, err := c.Send(ctx, to, msg)
			if err != nil {
				return err
			}
			for _, r := range outcome.Results {
				status := "sent"
				if r.Err != nil {
					status = r.Err.Error()
				}
				fmt.Printf("  %s: %s\n", r.Address, status)
			}
			if !outcome.Delivered {
				fmt.Printf("not delivered; message %d stays pending and is retried on the next connect\n", sent.ID)
				return nil
			}
			fmt.Println("sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "send a file instead of text")
	return cmd
}

func buildMessage(text []string, file string) (domain.LocalMessage, error) {
	if file == "" {
		if len(text) == 0 {
			return domain.LocalMessage{}, errors.New("message text or --file required")
		}
		return domain.LocalMessage{Type: domain.MessageText, Data: []byte(text[0])}, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return domain.LocalMessage{}, errors.Wrapf(err, "read %s", file)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return domain.LocalMessage{}, errors.Errorf("%s: unsupported file type %s", file, mt.String())
	}
	return domain.LocalMessage{
		Type: domain.MessageImage,
		Data: data,
		FileInfo: &domain.FileInfo{
			Name:     filepath.Base(file),
			MIMEType: mt.String(),
			Size:     int64(len(data)),
		},
	}, nil
}
