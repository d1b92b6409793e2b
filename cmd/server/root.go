package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/therealcybermattlee/ddcharacterbot/internal/auth"
)

// NewRootCmd creates the root command.  Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	serve := NewServeCmd()
	cmd := &cobra.Command{
		Use:          "ddcb",
		Short:        "Character service API",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	cmd.AddCommand(serve)
	cmd.AddCommand(NewHashPasswordCmd())
	return cmd
}

// NewHashPasswordCmd creates the hash-password subcommand, which reads a
// password from the first line of stdin and prints its scrypt credential.
// It is used to seed accounts and to prepare bulk credential migrations.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print the scrypt credential for a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("read password from stdin: no input")
			}
			password := strings.TrimRight(line, "\r\n")

			credential, err := auth.NewPasswordService().Hash(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), credential)
			return err
		},
	}
}
