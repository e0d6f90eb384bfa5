package sessioncache

import "strings"

// Changes is the set of pending persistence categories on a Record.
// Markers are independent bits; a record may carry several at once.
type Changes uint8

const (
	ChangeNewSession     Changes = 1 << iota // not yet persisted
	ChangeAccess                             // last-accessed time updated
	ChangeSessionID                          // identifier changed
	ChangeSessionAuth                        // (re)authentication
	ChangeSessionChange                      // other scalar property, e.g. max inactive interval
	ChangeSessionRemoved                     // session invalidated
	ChangeAttributes                         // one or more attribute writes or removals
)

// ChangeControl groups the markers flushed with a single control-row update.
const ChangeControl = ChangeAccess | ChangeSessionChange | ChangeSessionAuth

var changeNames = [...]struct {
	c    Changes
	name string
}{
	{ChangeNewSession, "NEW_SESSION"},
	{ChangeAccess, "ACCESS"},
	{ChangeSessionID, "SESSION_ID"},
	{ChangeSessionAuth, "SESSION_AUTH"},
	{ChangeSessionChange, "SESSION_CHANGE"},
	{ChangeSessionRemoved, "SESSION_REMOVED"},
	{ChangeAttributes, "ATTRIBUTES"},
}

// Has reports whether every marker in m is set.
func (c Changes) Has(m Changes) bool { return m != 0 && c&m == m }

// Any reports whether at least one marker in m is set.
func (c Changes) Any(m Changes) bool { return c&m != 0 }

func (c Changes) String() string {
	if c == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range changeNames {
		if c&n.c != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
