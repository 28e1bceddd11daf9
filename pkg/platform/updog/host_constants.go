package updog

type engineFlag = string

// Flags of the engine's agent mode.
const (
	FlagServerHost          engineFlag = "--server-host"
	FlagServerPort          engineFlag = "--server-port"
	FlagFile                engineFlag = "--file"
	FlagFlow                engineFlag = "--flow"
	FlagConnection          engineFlag = "--connection"
	FlagBind                engineFlag = "--bind"
	FlagServerName          engineFlag = "--server-name"
	FlagRootCA              engineFlag = "--root-ca"
	FlagClientCert          engineFlag = "--client-cert"
	FlagClientKey           engineFlag = "--client-key"
	FlagStaging             engineFlag = "--staging"
	FlagValidateAfterReboot engineFlag = "--validate-after-reboot"
	FlagNoSendResult        engineFlag = "--no-send-result"
)

// CommandAgent runs the engine as an agent reporting events as JSON lines.
const CommandAgent = "agent"

type flow = string

const (
	FlowJob    flow = "job"
	FlowDirect flow = "direct"
)

// CommandMarkBoot marks the running image successful.
const CommandMarkBoot = "mark-successful-boot"

const (
	systemdSocket = "/run/systemd/private"
	rebootUnit    = "reboot.target"
)
