package dispatcher

import "github.com/mark3labs/mcp-go/mcp"

func sshConnectTool() mcp.Tool {
	return mcp.NewTool("ssh_connect",
		mcp.WithDescription(`Open a persistent SSH session to a remote host.

Authenticate with a private key, a password, or both (key first, password as
fallback). Alternatively pass 'server' to connect using a pre-configured
entry from the host book (see ssh_list_servers) — any of host/port/username
you also supply overrides the book entry.

Returns a session_id to use with ssh_run, ssh_upload, ssh_download, and
ssh_disconnect. The session is bound to a permissibility tier (low, medium,
or high) for its entire lifetime; see ssh_get_permissibility_info for what
each tier allows.`),
		mcp.WithString("host", mcp.Description("Remote host name or IP address")),
		mcp.WithNumber("port", mcp.Description("SSH port, default 22")),
		mcp.WithString("username", mcp.Required(), mcp.Description("SSH login user")),
		mcp.WithString("password", mcp.Description("SSH password, omit when using a private key")),
		mcp.WithString("private_key", mcp.Description("PEM-encoded SSH private key")),
		mcp.WithString("private_key_passphrase", mcp.Description("Passphrase for an encrypted private key")),
		mcp.WithString("sudo_password", mcp.Description("Sudo password used to auto-answer sudo prompts during ssh_run")),
		mcp.WithString("permissibility_level", mcp.Description("low, medium, or high; defaults to the daemon's configured level")),
		mcp.WithString("server", mcp.Description("Name of a pre-configured server from the host book")),
	)
}

func sshRunTool() mcp.Tool {
	return mcp.NewTool("ssh_run",
		mcp.WithDescription(`Execute a shell command on an open SSH session.

The command is checked against the session's permissibility tier before it
ever reaches the remote shell. Denied commands return success=false with
error="Denied" and a human-readable reason; no bytes are sent to the host.

If the remote shell prompts for a sudo password or asks to confirm an
unknown host key, the interposer answers automatically when it can and
otherwise surfaces the prompt through ssh_list_password_requests /
ssh_provide_password. exit_status is null whenever output was cut short by
a byte, line, or time cap — check truncated/timed_out in that case.`),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by ssh_connect")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to execute")),
		mcp.WithNumber("timeout_ms", mcp.Description("Per-command timeout in milliseconds")),
	)
}

func sshUploadTool() mcp.Tool {
	return mcp.NewTool("ssh_upload",
		mcp.WithDescription(`Write a file to the remote host over SFTP.

remote_path must fall under one of the daemon's configured allow-prefixes;
anything else is denied with error="TransferError.path_denied".`),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("remote_path", mcp.Required()),
		mcp.WithString("content_base64", mcp.Required(), mcp.Description("Base64-encoded file content")),
		mcp.WithString("mode", mcp.Description("Octal file mode string, default 0644")),
	)
}

func sshDownloadTool() mcp.Tool {
	return mcp.NewTool("ssh_download",
		mcp.WithDescription(`Read a file from the remote host over SFTP, base64-encoded in the result.

remote_path must fall under one of the daemon's configured allow-prefixes.
Files larger than max_bytes (or the daemon's configured output cap when
max_bytes is omitted) are rejected with error="TransferError.too_large"
rather than being silently truncated.`),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("remote_path", mcp.Required()),
		mcp.WithNumber("max_bytes", mcp.Description("Maximum bytes to read")),
	)
}

func sshListSessionsTool() mcp.Tool {
	return mcp.NewTool("ssh_list_sessions",
		mcp.WithDescription("List every open SSH session with its host, state, and idle time."),
	)
}

func sshDisconnectTool() mcp.Tool {
	return mcp.NewTool("ssh_disconnect",
		mcp.WithDescription("Close an SSH session and free its slot."),
		mcp.WithString("session_id", mcp.Required()),
	)
}

func sshGetPermissibilityInfoTool() mcp.Tool {
	return mcp.NewTool("ssh_get_permissibility_info",
		mcp.WithDescription(`Describe what a permissibility tier allows.

Returns the full set of command names allowed at the tier and the set that
is always denied regardless of tier. Useful for deciding which tier a new
ssh_connect call needs before attempting a command that might be denied.`),
		mcp.WithString("level", mcp.Description("low, medium, or high; defaults to the daemon's configured level")),
	)
}

func sshListPasswordRequestsTool() mcp.Tool {
	return mcp.NewTool("ssh_list_password_requests",
		mcp.WithDescription("List pending interactive prompts (sudo, SSH host confirmation, generic y/n) raised by ssh_run calls that the interposer could not answer automatically. Requests expire after 60 seconds unanswered."),
	)
}

func sshProvidePasswordTool() mcp.Tool {
	return mcp.NewTool("ssh_provide_password",
		mcp.WithDescription("Answer a pending prompt raised by ssh_list_password_requests."),
		mcp.WithString("request_id", mcp.Required()),
		mcp.WithString("value", mcp.Required(), mcp.Description("The answer to send to the pending prompt")),
	)
}

func sshCancelPasswordRequestTool() mcp.Tool {
	return mcp.NewTool("ssh_cancel_password_request",
		mcp.WithDescription("Discard a pending prompt without answering it."),
		mcp.WithString("request_id", mcp.Required()),
	)
}

func sshListServersTool() mcp.Tool {
	return mcp.NewTool("ssh_list_servers",
		mcp.WithDescription(`List pre-configured SSH servers from the daemon's config file.

Use the server name with ssh_connect's 'server' field to connect without
repeating host/user/key details. Never reveals a configured sudo password;
only whether one is set.`),
	)
}

func sshTestServerTool() mcp.Tool {
	return mcp.NewTool("ssh_test_server",
		mcp.WithDescription("Probe reachability and authentication for a pre-configured server without opening a session slot for it."),
		mcp.WithString("server", mcp.Required(), mcp.Description("Name of a pre-configured server from the host book")),
	)
}
