package engine

import "github.com/commucat/client-go/config"

// Command is a request submitted to the engine actor. The set of commands
// is closed; the actor matches exhaustively on the concrete types.
type Command interface {
	isCommand()
}

// Connect requests a new connection built from the profile. Rejected while
// another connection is active or another attempt is in flight.
type Connect struct {
	Profile *config.Profile
}

// Disconnect tears down the active connection, if any.
type Disconnect struct{}

// Join announces channel membership to the server.
type Join struct {
	ChannelID uint64
	Members   []string
	Relay     bool
}

// SendMessage ships an opaque message body on a channel.
type SendMessage struct {
	ChannelID uint64
	Body      []byte
}

// Leave withdraws from a channel.
type Leave struct {
	ChannelID uint64
}

// Presence publishes the caller's presence state.
type Presence struct {
	State string
}

func (Connect) isCommand()     {}
func (Disconnect) isCommand()  {}
func (Join) isCommand()        {}
func (SendMessage) isCommand() {}
func (Leave) isCommand()       {}
func (Presence) isCommand()    {}
