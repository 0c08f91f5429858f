package chatsync

// List helpers used by Reduce. None of them modify their inputs.

// moveToFront returns order with id at index 0 and every other id in its
// previous relative order. An id that is not present is prepended.
func moveToFront(order []string, id string) []string {
	if len(order) > 0 && order[0] == id {
		return order
	}
	out := make([]string, 0, len(order)+1)
	out = append(out, id)
	for _, o := range order {
		if o != id {
			out = append(out, o)
		}
	}
	return out
}

// removeID returns order without id.
func removeID(order []string, id string) []string {
	out := make([]string, 0, len(order))
	for _, o := range order {
		if o != id {
			out = append(out, o)
		}
	}
	return out
}

// appendMissing returns order extended with the ids of more that it does not
// already contain.
func appendMissing(order []string, more []string) []string {
	seen := make(map[string]struct{}, len(order)+len(more))
	for _, id := range order {
		seen[id] = struct{}{}
	}
	out := append([]string(nil), order...)
	for _, id := range more {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// dedupeMessages drops every message whose id already occurred earlier in the
// slice or is contained in skip.
func dedupeMessages(msgs []Message, skip map[string]struct{}) []Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := skip[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func messageIDs(msgs []Message) map[string]struct{} {
	ids := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		ids[m.ID] = struct{}{}
	}
	return ids
}

// replaceAt returns a copy of msgs with msgs[i] set to m.
func replaceAt(msgs []Message, i int, m Message) []Message {
	out := append([]Message(nil), msgs...)
	out[i] = m
	return out
}

// removeAt returns a copy of msgs without msgs[i].
func removeAt(msgs []Message, i int) []Message {
	out := make([]Message, 0, len(msgs)-1)
	out = append(out, msgs[:i]...)
	return append(out, msgs[i+1:]...)
}

// appendMessage returns a copy of msgs with m appended.
func appendMessage(msgs []Message, m Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	return append(out, m)
}

// firstOptimisticFrom returns the index of the oldest still-optimistic
// message sent by senderID, or -1.
func firstOptimisticFrom(msgs []Message, senderID string) int {
	for i := range msgs {
		if msgs[i].Status == StatusOptimistic && msgs[i].SenderID == senderID {
			return i
		}
	}
	return -1
}

// copyConversations returns a shallow copy of m with room for one more entry.
func copyConversations(m map[string]Conversation) map[string]Conversation {
	out := make(map[string]Conversation, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyMessageLists(m map[string]MessageList) map[string]MessageList {
	out := make(map[string]MessageList, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// copyParticipants returns a copy of ps that can be modified safely.
func copyParticipants(ps []Participant) []Participant {
	if ps == nil {
		return nil
	}
	return append([]Participant(nil), ps...)
}

// confirmed returns m tagged as server-acknowledged. clientID is kept on the
// message when m replaces a local entry.
func confirmed(m Message, clientID string) Message {
	m.Status = StatusConfirmed
	m.Error = ""
	if m.ClientID == "" {
		m.ClientID = clientID
	}
	return m
}
