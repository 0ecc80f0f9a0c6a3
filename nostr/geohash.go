package nostr

// NewGeohashNote builds the kind-20000 ephemeral event: a location tag, an
// optional nickname tag, and an optional teleport marker.
func NewGeohashNote(identityPub string, geohash string, nickname string, teleport bool, content string, now int64) *Event {
	tags := [][]string{{"g", geohash}}
	if nickname != "" {
		tags = append(tags, []string{"n", nickname})
	}
	if teleport {
		tags = append(tags, []string{"t", "teleport"})
	}
	return NewEvent(identityPub, now, KindGeohashNote, tags, content)
}

// NewGeohashPresence builds the kind-20001 presence beacon: a bare location
// tag and no content.
func NewGeohashPresence(identityPub string, geohash string, now int64) *Event {
	return NewEvent(identityPub, now, KindGeohashPres, [][]string{{"g", geohash}}, "")
}
