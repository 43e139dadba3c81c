package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func newAuthCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage credentials used by sshmcpd's host book",
	}
	cmd.AddCommand(newAuthSetSudoPasswordCmd(root))
	return cmd
}

// newAuthSetSudoPasswordCmd prompts for a sudo password with echo disabled
// (golang.org/x/term.ReadPassword, the same masked-entry idiom the teacher
// uses nowhere directly but which is the standard companion to x/crypto/ssh
// for this exact purpose) and stores it against a named server entry in the
// YAML config file, leaving every other key untouched.
func newAuthSetSudoPasswordCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-sudo-password <server>",
		Short: "Prompt for and store a server's sudo password in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverName := args[0]

			fmt.Fprintf(os.Stderr, "sudo password for %s: ", serverName)
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if len(pw) == 0 {
				return fmt.Errorf("empty password, aborting")
			}

			return setServerSudoPassword(root.configPath, serverName, string(pw))
		},
	}
}

func setServerSudoPassword(path, serverName, password string) error {
	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse existing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read config: %w", err)
	}

	rawServers, _ := doc["servers"].([]any)
	found := false
	for _, rs := range rawServers {
		entry, ok := rs.(map[string]any)
		if !ok {
			continue
		}
		if name, _ := entry["name"].(string); name == serverName {
			entry["sudo_password"] = password
			found = true
			break
		}
	}
	if !found {
		rawServers = append(rawServers, map[string]any{
			"name":          serverName,
			"sudo_password": password,
		})
	}
	doc["servers"] = rawServers

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(os.Stdout, "stored sudo password for server %q in %s\n", serverName, path)
	return nil
}
