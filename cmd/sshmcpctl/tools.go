package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/nullstream/sshmcp/internal/dispatcher"
)

// toolSchemas lists every ssh_* tool's argument struct by its tool name,
// so `sshmcpctl tools schema` can dump documentation without the daemon
// having to expose a schema endpoint of its own.
var toolSchemas = map[string]any{
	"ssh_connect":                 dispatcher.SSHConnectRequest{},
	"ssh_run":                     dispatcher.SSHRunRequest{},
	"ssh_upload":                  dispatcher.SSHUploadRequest{},
	"ssh_download":                dispatcher.SSHDownloadRequest{},
	"ssh_list_sessions":           dispatcher.SSHListSessionsRequest{},
	"ssh_disconnect":              dispatcher.SSHDisconnectRequest{},
	"ssh_get_permissibility_info": dispatcher.SSHGetPermissibilityInfoRequest{},
	"ssh_list_password_requests":  dispatcher.SSHListPasswordRequestsRequest{},
	"ssh_provide_password":        dispatcher.SSHProvidePasswordRequest{},
	"ssh_cancel_password_request": dispatcher.SSHCancelPasswordRequestRequest{},
	"ssh_list_servers":            dispatcher.SSHListServersRequest{},
	"ssh_test_server":             dispatcher.SSHTestServerRequest{},
}

func newToolsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the MCP tool surface exposed by sshmcpd",
	}
	cmd.AddCommand(newToolsSchemaCmd())
	cmd.AddCommand(newToolsListCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered tool name",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for name := range toolSchemas {
				fmt.Fprintln(os.Stdout, name)
			}
			return nil
		},
	}
}

// newToolsSchemaCmd reflects each request struct through invopop/jsonschema,
// grounded on reglet-dev-reglet-sdk's application/schema.GenerateSchema.
func newToolsSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [tool-name]",
		Short: "Print the JSON Schema for one or all tools' arguments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reflector := jsonschema.Reflector{ExpandedStruct: true}

			if len(args) == 1 {
				v, ok := toolSchemas[args[0]]
				if !ok {
					return fmt.Errorf("unknown tool: %s", args[0])
				}
				return printSchema(reflector, args[0], v)
			}

			for name, v := range toolSchemas {
				if err := printSchema(reflector, name, v); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printSchema(reflector jsonschema.Reflector, name string, v any) error {
	schema := reflector.Reflect(v)
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	fmt.Fprintf(os.Stdout, "# %s\n%s\n\n", name, data)
	return nil
}
