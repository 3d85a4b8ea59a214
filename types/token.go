package types

// Token is the completion signal sent upstream once every part of a logical
// event has been durably handled. Receiving a token lets the upstream
// orchestrator release the resources it holds for that event.
//
// The token with RunNumber 0 and EventID 0 is the presence announcement sent
// once at configure time so the orchestrator learns this writer exists.
type Token struct {
	// RunNumber is the run the completed event belongs to.
	RunNumber RunNumber `msgpack:"run_number"`
	// EventID is the completed logical event.
	EventID EventID `msgpack:"event_id"`
	// Destination names the connection the upstream decision originated from.
	Destination string `msgpack:"destination"`
}

// IsAnnouncement reports whether this is the configure-time presence token.
func (t *Token) IsAnnouncement() bool {
	return t.RunNumber == 0 && t.EventID == 0
}
