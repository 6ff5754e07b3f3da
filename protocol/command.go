package protocol

type Command string

const (
	SUBSCRIBE   Command = "subscribe"
	UNSUBSCRIBE Command = "unsubscribe"
	SENDRAW     Command = "sendraw"
	PING        Command = "ping"
	QUIT        Command = "quit"
	CLIENTS     Command = "clients"
	CHANNELS    Command = "channels"

	// ACK is the bare acknowledgement line sent in reply to server probes and
	// non-event lines.
	ACK Command = "."
)

const (
	// DefaultPort is the TCP port OOCSI servers listen on unless told otherwise.
	DefaultPort = 4444

	// HandshakeSuffix follows the client name in the identification line.
	HandshakeSuffix = "(JSON)"

	// WelcomePrefix starts the server's handshake acknowledgement.
	WelcomePrefix = "welcome "

	// Reserved keys of a JSON event frame.
	KeyRecipient = "recipient"
	KeySender    = "sender"
	KeyTimestamp = "timestamp"
)

// Handshake returns the identification line for a client called name.
func Handshake(name string) string {
	return name + HandshakeSuffix
}

// Welcome returns the substring a handshake acknowledgement for name must contain.
func Welcome(name string) string {
	return WelcomePrefix + name
}
