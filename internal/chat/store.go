package chat

// Snapshot is the durable shape of the registry: the ordered session
// list (front = most recent) with embedded transcripts, plus the active
// session pointer.
type Snapshot struct {
	Sessions []*Session `json:"sessions"`
	ActiveID string     `json:"active_id,omitempty"`
}

func (sn Snapshot) clone() Snapshot {
	out := Snapshot{ActiveID: sn.ActiveID}
	if sn.Sessions != nil {
		out.Sessions = make([]*Session, 0, len(sn.Sessions))
		for _, s := range sn.Sessions {
			out.Sessions = append(out.Sessions, s.clone())
		}
	}
	return out
}

// Store persists registry snapshots.
//
// Load must tolerate absent or corrupted data: implementations log and
// return an empty snapshot rather than failing startup. A non-nil error
// signals an unexpected I/O condition; the registry still starts empty.
// Save failures are non-fatal and leave the in-memory state
// authoritative.
type Store interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}
