package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zereker/nss"
)

var sendCmd = &cobra.Command{
	Use:   "send [snippet|-]",
	Short: "Send a snippet to a running server and print the reply",
	Long:  `Sends the snippet given as argument, or read from stdin when the argument is "-" or missing.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		source := "-"
		if len(args) == 1 {
			source = args[0]
		}
		if source == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			source = string(data)
		}
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("nothing to send")
		}

		file, _ := cmd.Flags().GetString("file")
		client := nss.NewClient(cfg, peerAddr(cmd, cfg.Port), nss.ClientLoggerOption(newLogger(cmd, cfg)))

		reply, err := client.Send(cmd.Context(), nss.Envelope{Text: source, File: file})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), nss.FormatReply(nss.Stream, reply))
		return nil
	},
}

var sendNodesCmd = &cobra.Command{
	Use:   "send-nodes",
	Short: "Send the node selection to another instance",
	Long:  `Reads the current selection from the node store (transfer file or Redis) and sends it to the peer.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		client := nss.NewClient(cfg, peerAddr(cmd, cfg.Port), nss.ClientLoggerOption(newLogger(cmd, cfg)))
		reply, err := client.SendNodes(cmd.Context(), newNodeStore(cfg))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), nss.FormatReply(nss.Stream, reply))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sendNodesCmd)

	for _, c := range []*cobra.Command{sendCmd, sendNodesCmd} {
		c.Flags().String("host", "127.0.0.1", "Host of the peer")
	}
	sendCmd.Flags().String("file", "", "File name reported in tracebacks")
}

func peerAddr(cmd *cobra.Command, port int) string {
	host, _ := cmd.Flags().GetString("host")
	return net.JoinHostPort(host, strconv.Itoa(port))
}
