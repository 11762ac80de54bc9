package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stalker-loki/braceratchet"
)

func decodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [hex frame]",
		Short: "Print the fields of a hex encoded data message (stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in string
			if len(args) == 1 {
				in = args[0]
			} else {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				in = string(b)
			}
			frame, err := hex.DecodeString(strings.TrimSpace(in))
			if err != nil {
				return fmt.Errorf("frame is not hex: %w", err)
			}
			dm, err := braceratchet.DecodeDataMessage(frame)
			if err != nil {
				return err
			}
			defer dm.Destroy()

			printMessage(cmd.OutOrStdout(), dm)
			return nil
		},
	}
	return cmd
}

func printMessage(w io.Writer, dm *braceratchet.DataMessage) {
	fmt.Fprintf(w, "Sender tag:   %#08x\n", dm.SenderTag)
	fmt.Fprintf(w, "Receiver tag: %#08x\n", dm.ReceiverTag)
	fmt.Fprintf(w, "Flags:        %#02x\n", dm.Flags)
	fmt.Fprintf(w, "Message id:   %d\n", dm.MessageID)
	fmt.Fprintf(w, "ECDH:         %x\n", dm.ECDH[:])
	if dm.DH != nil {
		fmt.Fprintf(w, "DH:           %d bits\n", dm.DH.BitLen())
	} else {
		fmt.Fprintf(w, "DH:           absent\n")
	}
	fmt.Fprintf(w, "Nonce:        %x\n", dm.Nonce[:])
	fmt.Fprintf(w, "Payload:      %d bytes\n", len(dm.Payload))
	fmt.Fprintf(w, "MAC:          %x\n", dm.MAC[:])
}
