// ABOUTME: Idle event flags
// ABOUTME: Names the subsystems whose changes clients can wait for
package idle

import (
	"fmt"
	"strings"
)

// Flags is a set of changed subsystems
type Flags uint32

const (
	// Database is the song database
	Database Flags = 1 << iota
	// StoredPlaylist is the set of saved playlists
	StoredPlaylist
	// Playlist is the current queue
	Playlist
	// Player is play, pause, stop, seek and song changes
	Player
	// Mixer is volume
	Mixer
	// Output is an output being enabled, disabled, opened or closed
	Output
	// Options is playback options such as repeat
	Options
)

// All has every known flag set
const All = Database | StoredPlaylist | Playlist | Player | Mixer | Output | Options

var names = []struct {
	flag Flags
	name string
}{
	{Database, "database"},
	{StoredPlaylist, "stored_playlist"},
	{Playlist, "playlist"},
	{Player, "player"},
	{Mixer, "mixer"},
	{Output, "output"},
	{Options, "options"},
}

// Names returns the names of the set flags in declaration order
func (f Flags) Names() []string {
	out := []string{}
	for _, n := range names {
		if f&n.flag != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (f Flags) String() string {
	return strings.Join(f.Names(), ",")
}

// ParseName returns the flag for a subsystem name
func ParseName(name string) (Flags, error) {
	for _, n := range names {
		if strings.EqualFold(n.name, name) {
			return n.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown idle subsystem: %q", name)
}

// ParseNames combines several subsystem names. An empty list means All.
func ParseNames(list []string) (Flags, error) {
	if len(list) == 0 {
		return All, nil
	}
	var f Flags
	for _, name := range list {
		flag, err := ParseName(strings.TrimSpace(name))
		if err != nil {
			return 0, err
		}
		f |= flag
	}
	return f, nil
}
