package policy

// Command tables are data, not code: they are declared here as plain slices
// so the tier structure (low ⊆ medium ⊆ high) is visible by construction
// rather than asserted at runtime. See internal/policy/tables.go for the
// invariant checks run once at startup.

// lowOnly are read-only inspection commands admitted at every tier.
var lowOnly = []string{
	// file inspection
	"ls", "cat", "head", "tail", "more", "less", "grep", "egrep", "fgrep",
	"find", "du", "df", "file", "stat", "wc", "sort", "uniq", "cut", "tr",
	"awk", "sed", "diff", "cmp", "comm", "column", "tree", "locate",
	"md5sum", "sha1sum", "sha256sum", "sha512sum", "base64", "xxd", "od",
	"jq", "yq", "readlink", "basename", "dirname", "realpath",
	// system info
	"uname", "whoami", "id", "pwd", "date", "uptime", "free", "lscpu",
	"nproc", "hostname", "hostnamectl", "env", "printenv", "which",
	"whereis", "type", "arch", "timedatectl", "localectl",
	// process inspection
	"ps", "top", "htop", "pgrep", "pidof", "pstree", "vmstat", "iostat",
	"sar", "dmesg", "w", "last", "lastlog", "who", "groups", "getent",
	"lsof", "nice", "renice",
	// network inspection
	"ping", "curl", "wget", "netstat", "ss", "dig", "nslookup", "host",
	"traceroute", "mtr", "ip", "ifconfig", "arp", "route",
	// hardware inspection
	"lsblk", "lsusb", "lspci", "lscpi", "lsmod", "lsattr",
	// container/orchestration read
	"kubectl", "k9s", "helm",
	// misc
	"printf", "echo", "sleep", "true", "false", "tar", "gzip", "gunzip",
	"zip", "unzip", "xz", "bzip2", "unxz", "bunzip2",
	"cksum", "shasum", "ldd", "nm", "objdump", "readelf", "strings",
	"iftop", "iotop", "dstat", "numactl", "chrt", "taskset", "cal", "bc",
	"expr", "seq", "yes", "tty", "stty", "tput", "clear", "history",
	"openssl", "gpg", "getfacl", "ncdu", "htpasswd",
}

// mediumOnly are additive at MEDIUM: mutating but non-privileged and
// non-destructive-by-default operations.
var mediumOnly = []string{
	// filesystem mutation
	"mkdir", "touch", "cp", "mv", "chmod", "chown", "ln", "rsync",
	"install", "patch", "truncate",
	// process control
	"kill", "killall", "pkill", "nohup", "xargs", "watch",
	// package managers (read/list/search only; write forms need HIGH,
	// enforced by the per-tool safe-argument sub-patterns in patterns.go)
	"apt", "apt-get", "apt-cache", "dpkg", "yum", "dnf", "pacman", "brew",
	"pip", "pip3", "npm", "yarn", "gem", "cargo", "go",
	// build tooling
	"make", "cmake", "ninja",
	// git (write forms without --force, gated further by patterns.go)
	"git",
	// containers
	"docker", "docker-compose", "podman", "nerdctl",
	// service control (read-mostly; unit start/stop gated by patterns.go)
	"systemctl", "journalctl", "service", "systemd-analyze",
	// scheduling
	"crontab", "at", "atq", "atrm",
	// network diagnostics that touch state
	"nmap", "tcpdump", "nc", "netcat", "telnet", "socat",
	// tunnels used by the deployment surface, execution only (not setup)
	"ssh", "scp", "sftp", "tailscale", "cloudflared",
	// key management
	"ssh-keygen", "ssh-add", "ssh-copy-id",
	// text editors invoked non-interactively
	"tee", "envsubst",
}

// highOnly are additive at HIGH: commands requiring root/sudo semantics or
// carrying broad blast radius, admitted only once uses_sudo is permitted.
var highOnly = []string{
	"unattended-upgrade", "needrestart", "rm", "rmdir",
	"iptables", "ip6tables", "nft", "ufw", "firewall-cmd",
	"mount", "umount", "fsck", "swapon", "swapoff",
	"dd",
	"setcap", "getcap", "semanage", "setsebool", "restorecon",
	"sysctl", "modprobe", "rmmod", "insmod",
	"logrotate", "auditctl", "ausearch",
	"apparmor_status", "aa-enforce", "aa-complain",
	"lvcreate", "lvremove", "vgcreate", "pvcreate",
}

// alwaysDenied names have no legitimate remote-exec form under this
// service and are rejected regardless of tier or sudo.
var alwaysDenied = []string{
	"shutdown", "reboot", "halt", "poweroff", "init", "telinit",
	"mkfs", "mkfs.ext2", "mkfs.ext3", "mkfs.ext4", "mkfs.xfs",
	"mkfs.vfat", "mkfs.btrfs", "fdisk", "sfdisk", "parted", "wipefs",
	"shred", "blkdiscard",
	"useradd", "userdel", "usermod", "groupadd", "groupdel", "groupmod",
	"adduser", "deluser", "visudo", "passwd", "chpasswd", "gpasswd",
	"nsenter", "chroot",
}
