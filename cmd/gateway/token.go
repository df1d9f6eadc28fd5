package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Read an admin token from the terminal with echo disabled",
	RunE:  runToken,
}

// runToken reads a secret with echo disabled so operators can seed
// gateway-side credentials without it landing in shell history.
func runToken(cmd *cobra.Command, args []string) error {
	fmt.Fprint(os.Stdout, "token: ")

	if term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stdout)
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		return emitToken(string(data))
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	return emitToken(strings.TrimRight(line, "\r\n"))
}

func emitToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("empty token")
	}
	fmt.Printf("GATEWAY_ADMIN_TOKEN=%s\n", token)
	return nil
}
