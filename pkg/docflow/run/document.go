package run

// DocumentRef identifies a source document and carries the read-only content
// tools operate on. The orchestrator never mutates documents.
type DocumentRef struct {
	ID       string            `json:"id" yaml:"id"`
	Title    string            `json:"title,omitempty" yaml:"title"`
	Summary  string            `json:"summary,omitempty" yaml:"summary"`
	Content  string            `json:"content,omitempty" yaml:"content"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// Ref returns the provenance reference for the document.
func (d DocumentRef) Ref() string {
	return "document:" + d.ID
}

// OutputRef returns the provenance reference for a tool's output on a document.
func OutputRef(documentID, toolID string) string {
	return "output:" + documentID + "/" + toolID
}
