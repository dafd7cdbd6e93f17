package broadcast

import "github.com/vigilops/vigil/internal/session"

// Multi fans one broadcast out to several broadcasters.
type Multi []session.Broadcaster

// Combine drops nil entries and collapses the trivial cases.
func Combine(bs ...session.Broadcaster) session.Broadcaster {
	var out Multi
	for _, b := range bs {
		if b != nil {
			out = append(out, b)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

func (m Multi) ScoreUpdated(snap session.Snapshot) {
	for _, b := range m {
		b.ScoreUpdated(snap)
	}
}

func (m Multi) AlertRaised(alert session.Alert, snap session.Snapshot) {
	for _, b := range m {
		b.AlertRaised(alert, snap)
	}
}

func (m Multi) SessionClosed(snap session.Snapshot, reason string) {
	for _, b := range m {
		b.SessionClosed(snap, reason)
	}
}
