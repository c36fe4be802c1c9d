package reconcile

import "forgechat/internal/domain"

// MergeMode selects how much authority a server list carries.
type MergeMode int

const (
	// MergePartial treats the server list as a bounded window: known
	// messages are replaced in place, new ones appended, and nothing
	// local is ever removed.
	MergePartial MergeMode = iota
	// MergeAuthoritative treats the server list as the full history:
	// it becomes the base, and only trailing local messages the server
	// cannot know about yet survive on top.
	MergeAuthoritative
)

// MergeServerMessages reconciles a server-provided message list into the
// local view. Matching is by server id first, then by client correlation
// id; fingerprints break ties across id boundaries.
func MergeServerMessages(local, server []domain.Message, mode MergeMode) []domain.Message {
	if mode == MergePartial {
		return mergePartial(local, server)
	}
	return mergeAuthoritative(local, server)
}

func mergePartial(local, server []domain.Message) []domain.Message {
	out := make([]domain.Message, len(local))
	copy(out, local)
	for _, sm := range server {
		if idx := matchIndex(out, sm); idx >= 0 {
			sm.IsStreaming = false
			out[idx] = sm
			continue
		}
		out = append(out, sm)
	}
	return out
}

func mergeAuthoritative(local, server []domain.Message) []domain.Message {
	known := make(map[string]bool, len(server))
	prints := make(map[string]bool, len(server))
	for _, sm := range server {
		if sm.ClientID != "" {
			known[sm.ClientID] = true
		}
		prints[Fingerprint(sm)] = true
		prints[TextSignature(sm)] = true
	}

	// Walk the local tail for messages the server cannot have yet: an
	// in-flight streaming message, or an optimistic user echo whose
	// client id has not come back in any server message.
	start := len(local)
	for i := len(local) - 1; i >= 0; i-- {
		m := local[i]
		if !survivesAuthoritative(m, known, prints) {
			break
		}
		start = i
	}

	out := make([]domain.Message, 0, len(server)+len(local)-start)
	out = append(out, server...)
	out = append(out, local[start:]...)
	return out
}

func survivesAuthoritative(m domain.Message, known, prints map[string]bool) bool {
	if m.IsStreaming {
		return true
	}
	if m.Role == domain.RoleUser && m.ClientID != "" && !known[m.ClientID] {
		// The fingerprint guard catches servers that echo the message
		// without echoing the client id.
		return !prints[Fingerprint(m)] && !prints[TextSignature(m)]
	}
	return false
}

func matchIndex(msgs []domain.Message, target domain.Message) int {
	for i, m := range msgs {
		if m.ID != "" && m.ID == target.ID {
			return i
		}
	}
	if target.ClientID == "" {
		return -1
	}
	for i, m := range msgs {
		if m.ClientID == target.ClientID {
			return i
		}
	}
	return -1
}
