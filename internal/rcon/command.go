// Package rcon implements spec.md's §4.E component: a reconnecting Source
// RCON client with the Never/Okay/Current(Err) state machine, plus the
// §6 command grammar.
package rcon

import "fmt"

// Command is anything the manager can serialize and send over RCON.
type Command interface {
	Serialize() string
}

// KickReason is the public reason string attached to a vote-kick.
type KickReason string

const (
	ReasonNone      KickReason = "none"
	ReasonIdle      KickReason = "idle"
	ReasonCheating  KickReason = "cheating"
	ReasonScamming  KickReason = "scamming"
)

// StatusCmd requests the player status table.
type StatusCmd struct{}

// Serialize implements Command.
func (StatusCmd) Serialize() string { return "status" }

// G15Cmd requests the G15 scoreboard diagnostic dump.
type G15Cmd struct{}

// Serialize implements Command.
func (G15Cmd) Serialize() string { return "g15_dumpplayer" }

// SayCmd sends a message to all-chat.
type SayCmd struct{ Text string }

// Serialize implements Command.
func (c SayCmd) Serialize() string { return fmt.Sprintf("say %q", c.Text) }

// SayTeamCmd sends a message to team chat.
type SayTeamCmd struct{ Text string }

// Serialize implements Command.
func (c SayTeamCmd) Serialize() string { return fmt.Sprintf("say_team %q", c.Text) }

// KickCmd calls a vote to kick a player by in-game userid.
type KickCmd struct {
	UserID int
	Reason KickReason
}

// Serialize implements Command.
func (c KickCmd) Serialize() string {
	return fmt.Sprintf(`callvote kick "%d %s"`, c.UserID, c.Reason)
}

// CustomCmd passes a raw, user-supplied console command through unchanged.
type CustomCmd struct{ Raw string }

// Serialize implements Command.
func (c CustomCmd) Serialize() string { return c.Raw }
