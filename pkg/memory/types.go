package memory

// Role tags one utterance in the raw conversation buffer.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Turn is one role-tagged utterance in the bounded FIFO buffer.
// Immutable once created; purged when evicted from the FIFO.
type Turn struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	Text        string `json:"text"`
	TimestampMS int64  `json:"timestampMs"`
}

// Note is a compressed, tagged, utility-scored long-term memory summary.
type Note struct {
	ID          string   `json:"id"`
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags"`
	CreatedAtMS int64    `json:"createdAtMs"`
	LastUsedMS  int64    `json:"lastUsedMs"`
	Utility     float64  `json:"utility"`
}

// NoteDraft is the input shape for UpsertNote. An empty ID creates a
// new note; a matching ID mutates the existing one in place.
type NoteDraft struct {
	ID      string
	Summary string
	Tags    []string
	Utility float64
}

// RetrievalOptions controls RetrieveContext.
type RetrievalOptions struct {
	Query      string
	LimitTurns int
	LimitNotes int
}

// Context is the retrieval result handed to the conversational flow:
// the most recent turns verbatim plus the top-scored notes.
type Context struct {
	Turns []Turn
	Notes []Note
}

// Snapshot is a full copy of store state, for diagnostics and export.
type Snapshot struct {
	Turns []Turn `json:"turns"`
	Notes []Note `json:"notes"`
}
