// Package dispatcher wires the ten canonical ssh_* MCP tools (plus the
// two supplemented host-book tools) to the session registry and policy
// engine, translating between mcp-go's request/result types and the
// internal *errs.Error vocabulary.
//
// Request structs carry validator/v10 tags the way reglet-dev's
// ValidateConfig does, and jsonschema tags so `sshmcpctl tools schema`
// can dump the same struct through invopop/jsonschema for documentation.
package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is a package-level singleton, reused across every request
// struct the dispatcher decodes, per reglet-dev-reglet-sdk's ValidateConfig.
var validate = validator.New()

// decodeAndValidate marshals args back to JSON and unmarshals into dst,
// then runs struct validation tags over the result. mcp-go hands request
// arguments as a map[string]any; round tripping through JSON is the
// simplest way to land them on a typed, tag-annotated struct.
func decodeAndValidate(args map[string]any, dst interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// SSHConnectRequest is ssh_connect's argument shape.
type SSHConnectRequest struct {
	Host           string `json:"host" jsonschema:"description=Remote host name or IP address"`
	Port           int    `json:"port,omitempty" jsonschema:"description=SSH port,default=22"`
	Username       string `json:"username" validate:"required" jsonschema:"description=SSH login user,required"`
	Password       string `json:"password,omitempty" jsonschema:"description=SSH password (omit when using a private key)"`
	PrivateKeyPEM  string `json:"private_key,omitempty" jsonschema:"description=PEM-encoded SSH private key"`
	PrivateKeyPass string `json:"private_key_passphrase,omitempty" jsonschema:"description=Passphrase for an encrypted private key"`
	SudoPassword   string `json:"sudo_password,omitempty" jsonschema:"description=Sudo password used to auto-answer sudo prompts"`
	Level          string `json:"permissibility_level,omitempty" jsonschema:"description=low, medium, or high; defaults to the daemon's configured level"`
	Server         string `json:"server,omitempty" jsonschema:"description=Name of a pre-configured server from the host book; fills in host/port/username/key when set"`
}

// SSHRunRequest is ssh_run's argument shape.
type SSHRunRequest struct {
	SessionID string `json:"session_id" validate:"required" jsonschema:"description=Session id returned by ssh_connect,required"`
	Command   string `json:"command" validate:"required" jsonschema:"description=Shell command to execute,required"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"description=Per-command timeout in milliseconds; defaults to the daemon's configured command timeout"`
}

// SSHUploadRequest is ssh_upload's argument shape.
type SSHUploadRequest struct {
	SessionID  string `json:"session_id" validate:"required" jsonschema:"required"`
	RemotePath string `json:"remote_path" validate:"required" jsonschema:"required"`
	ContentB64 string `json:"content_base64" validate:"required" jsonschema:"description=Base64-encoded file content,required"`
	Mode       string `json:"mode,omitempty" jsonschema:"description=Octal file mode string, default 0644"`
}

// SSHDownloadRequest is ssh_download's argument shape.
type SSHDownloadRequest struct {
	SessionID  string `json:"session_id" validate:"required" jsonschema:"required"`
	RemotePath string `json:"remote_path" validate:"required" jsonschema:"required"`
	MaxBytes   int64  `json:"max_bytes,omitempty" jsonschema:"description=Maximum bytes to read; defaults to the daemon's configured output cap"`
}

// SSHDisconnectRequest is ssh_disconnect's argument shape.
type SSHDisconnectRequest struct {
	SessionID string `json:"session_id" validate:"required" jsonschema:"required"`
}

// SSHListSessionsRequest is ssh_list_sessions's argument shape (currently
// no filters, kept as a struct for jsonschema symmetry with the other
// tools and to leave room for future filters without changing the wire
// shape).
type SSHListSessionsRequest struct{}

// SSHGetPermissibilityInfoRequest is ssh_get_permissibility_info's
// argument shape.
type SSHGetPermissibilityInfoRequest struct {
	Level string `json:"level,omitempty" jsonschema:"description=low, medium, or high; defaults to the daemon's configured level"`
}

// SSHListPasswordRequestsRequest is ssh_list_password_requests's argument
// shape.
type SSHListPasswordRequestsRequest struct{}

// SSHProvidePasswordRequest is ssh_provide_password's argument shape.
type SSHProvidePasswordRequest struct {
	RequestID string `json:"request_id" validate:"required" jsonschema:"required"`
	Value     string `json:"value" validate:"required" jsonschema:"description=The answer to send to the pending prompt,required"`
}

// SSHCancelPasswordRequestRequest is ssh_cancel_password_request's
// argument shape.
type SSHCancelPasswordRequestRequest struct {
	RequestID string `json:"request_id" validate:"required" jsonschema:"required"`
}

// SSHListServersRequest is ssh_list_servers's argument shape.
type SSHListServersRequest struct{}

// SSHTestServerRequest is ssh_test_server's argument shape.
type SSHTestServerRequest struct {
	Server string `json:"server" validate:"required" jsonschema:"description=Name of a pre-configured server from the host book,required"`
}
