package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"xdigest/pkg/auth"
	"xdigest/pkg/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API tokens",
	Long: `Manage the tokens xdigest uses for Apify, Discord and Telegram.

Tokens are stored in:
  - the system keychain (when available)
  - an encrypted file with a PBKDF2-derived key
and can also be supplied through XDIGEST_<SERVICE>_TOKEN variables.`,
}

var authSetCmd = &cobra.Command{
	Use:       "set <service>",
	Short:     "Store a token",
	Example:   "  xdigest auth set apify",
	Args:      cobra.ExactArgs(1),
	ValidArgs: auth.KnownServices,
	RunE:      runAuthSet,
}

var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored tokens (masked)",
	Args:  cobra.NoArgs,
	RunE:  runAuthShow,
}

var authDeleteCmd = &cobra.Command{
	Use:       "delete <service>",
	Short:     "Remove a stored token",
	Args:      cobra.ExactArgs(1),
	ValidArgs: auth.KnownServices,
	RunE:      runAuthDelete,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authShowCmd)
	authCmd.AddCommand(authDeleteCmd)
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	service := strings.ToLower(args[0])
	if !auth.ValidService(service) {
		return fmt.Errorf("unknown service %q (known: %s)", service, strings.Join(auth.KnownServices, ", "))
	}

	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	fmt.Println(auth.TokenGuide(service))
	fmt.Println()
	fmt.Printf("%s token: ", service)
	token, err := readSecret()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	if err := manager.Store(&auth.Secret{Service: service, Token: token}); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Token saved for %s (%s)", service, auth.MaskToken(strings.TrimSpace(token))))
	return nil
}

func runAuthShow(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	secrets, err := manager.List()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		ui.PrintWarning("No stored tokens", "use 'xdigest auth set <service>'")
		return nil
	}

	for _, s := range secrets {
		masked := auth.SanitizeSecret(s)
		modified := "environment"
		if !masked.LastModified.IsZero() {
			modified = masked.LastModified.Format("2006-01-02 15:04:05")
		}
		ui.PrintInfo(masked.Service, masked.Token+" "+ui.Dim("("+modified+")"))
	}
	return nil
}

func runAuthDelete(cmd *cobra.Command, args []string) error {
	service := strings.ToLower(args[0])

	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(service); err != nil {
		return err
	}
	ui.PrintSuccess("Token removed: " + service)
	return nil
}

// readSecret reads a line from stdin without echo when stdin is a terminal
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(b)), nil
		}
	}

	input, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
