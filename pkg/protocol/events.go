package protocol

// Dispatch types (Frame.T) the relay cares about.
const (
	EventReady          = "READY"
	EventResumed        = "RESUMED"
	EventGroupAtMessage = "GROUP_AT_MESSAGE_CREATE"
	EventC2CMessage     = "C2C_MESSAGE_CREATE"
	EventInteraction    = "INTERACTION_CREATE"
)

// Intent bits, keyed by the names accepted in config.
var intentBits = map[string]int{
	"GUILDS":                       1 << 0,
	"GUILD_MEMBERS":                1 << 1,
	"GUILD_MESSAGES":               1 << 9,
	"GUILD_MESSAGE_REACTIONS":      1 << 10,
	"DIRECT_MESSAGE":               1 << 12,
	"OPEN_FORUMS_EVENT":            1 << 18,
	"AUDIO_OR_LIVE_CHANNEL_MEMBER": 1 << 19,
	"GROUP_AND_C2C_EVENT":          1 << 25,
	"INTERACTION":                  1 << 26,
	"MESSAGE_AUDIT":                1 << 27,
	"FORUMS_EVENT":                 1 << 28,
	"AUDIO_ACTION":                 1 << 29,
	"PUBLIC_GUILD_MESSAGES":        1 << 30,
}

// DefaultIntents are enough to receive group @-messages, C2C messages and button callbacks.
var DefaultIntents = []string{"GROUP_AND_C2C_EVENT", "INTERACTION"}

// BuildIntents ORs the named intents together. Unknown names are ignored.
func BuildIntents(names []string) int {
	mask := 0
	for _, n := range names {
		mask |= intentBits[n]
	}
	return mask
}

// KnownIntent reports whether name is a recognised intent.
func KnownIntent(name string) bool {
	_, ok := intentBits[name]
	return ok
}

// Send API message types (msg_type).
const (
	MsgTypeText     = 0
	MsgTypeMarkdown = 2
	MsgTypeMedia    = 7
)

// Media upload file types (file_type).
const (
	FileTypeImage = 1
	FileTypeVideo = 2
	FileTypeVoice = 3
	FileTypeFile  = 4
)
