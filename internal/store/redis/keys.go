package redis

// Key layout:
//   deck:blocklist          -> list of blocked addresses, append-only from the gateway
//   deck:session:<id>       -> session username, with TTL
const (
	blocklistKey  = "deck:blocklist"
	sessionPrefix = "deck:session:"
)

// SessionKey returns the redis key for a session ID.
func SessionKey(id string) string {
	return sessionPrefix + id
}
