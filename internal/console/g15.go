package console

import (
	"sort"
	"strconv"

	"macagent/internal/match"
)

// g15Slot accumulates the fields seen for one dump index before it is
// folded into a match.G15Row. Only slots whose bValid field reads true are
// kept (§4.D: "retain only slots flagged valid").
type g15Slot struct {
	valid     bool
	name      string
	userID    int
	accountID uint32
	team      match.Team
	health    int
	kills     int
	deaths    int
	ping      int
}

// NewG15Message parses a full g15_dumpplayer payload into the message the
// event loop applies to fold its rows into match.State.
func NewG15Message(payload string) G15Msg {
	return G15Msg{Rows: ParseG15Dump(payload)}
}

// ParseG15Dump extracts the valid player rows out of a full g15_dumpplayer
// payload: one "m_X[idx] type (value)" line per field per slot, in no
// guaranteed order, across an arbitrary fixed-size slot table.
func ParseG15Dump(payload string) []match.G15Row {
	slots := make(map[int]*g15Slot)

	for _, line := range splitLines(payload) {
		m := g15LineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		field := m[1]
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		value := m[3]

		slot, ok := slots[idx]
		if !ok {
			slot = &g15Slot{}
			slots[idx] = slot
		}
		applyG15Field(slot, field, value)
	}

	indices := make([]int, 0, len(slots))
	for idx := range slots {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	rows := make([]match.G15Row, 0, len(indices))
	for _, idx := range indices {
		slot := slots[idx]
		if !slot.valid || slot.accountID == 0 {
			continue
		}
		rows = append(rows, match.G15Row{
			SteamID: match.SteamIDFromAccountID(slot.accountID),
			Name:    slot.name,
			UserID:  slot.userID,
			Team:    slot.team,
			Health:  slot.health,
			Kills:   slot.kills,
			Deaths:  slot.deaths,
			Ping:    slot.ping,
		})
	}
	return rows
}

func applyG15Field(slot *g15Slot, field, value string) {
	switch field {
	case "bValid":
		slot.valid = value == "1" || value == "true"
	case "szName":
		slot.name = value
	case "iUserID":
		slot.userID, _ = strconv.Atoi(value)
	case "iAccountID":
		n, _ := strconv.ParseUint(value, 10, 32)
		slot.accountID = uint32(n)
	case "iTeam":
		n, _ := strconv.Atoi(value)
		slot.team = match.Team(n)
	case "iHealth":
		slot.health, _ = strconv.Atoi(value)
	case "iScore":
		slot.kills, _ = strconv.Atoi(value)
	case "iDeaths":
		slot.deaths, _ = strconv.Atoi(value)
	case "iPing":
		slot.ping, _ = strconv.Atoi(value)
	}
}

func splitLines(payload string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(payload); i++ {
		if payload[i] == '\n' {
			lines = append(lines, trimCR(payload[start:i]))
			start = i + 1
		}
	}
	if start < len(payload) {
		lines = append(lines, trimCR(payload[start:]))
	}
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}
