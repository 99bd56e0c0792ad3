package domain

import "time"

type ChunkType string

const (
	ChunkHeading        ChunkType = "heading"
	ChunkDefinition     ChunkType = "definition"
	ChunkRequirement    ChunkType = "requirement"
	ChunkProcedure      ChunkType = "procedure"
	ChunkException      ChunkType = "exception"
	ChunkCrossReference ChunkType = "cross_reference"
	ChunkTable          ChunkType = "table"
	ChunkOther          ChunkType = "other"
)

type DocumentType string

const (
	DocRegulation   DocumentType = "regulation"
	DocDirective    DocumentType = "directive"
	DocGuideline    DocumentType = "guideline"
	DocConsultation DocumentType = "consultation"
	DocOpinion      DocumentType = "opinion"
	DocStandard     DocumentType = "standard"
)

type DocumentStatus string

const (
	StatusDraft      DocumentStatus = "draft"
	StatusPublished  DocumentStatus = "published"
	StatusWithdrawn  DocumentStatus = "withdrawn"
	StatusSuperseded DocumentStatus = "superseded"
)

// Chunk is a retrievable unit of regulatory text. The engine only ever holds
// read-only references; the document store owns the data.
type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	Position      int       `json:"position"`
	Type          ChunkType `json:"type"`
	Text          string    `json:"text"`
	TokenCount    int       `json:"token_count"`
	SectionPath   []string  `json:"section_path,omitempty"`
	CrossRefs     []string  `json:"cross_refs,omitempty"`
	Concepts      []string  `json:"concepts,omitempty"`
	EffectiveDate time.Time `json:"effective_date,omitzero"`
	Language      string    `json:"language,omitempty"`

	// Denormalized document attributes carried along for ranking.
	Authority    string       `json:"authority,omitempty"`
	DocumentType DocumentType `json:"document_type,omitempty"`
	Jurisdiction string       `json:"jurisdiction,omitempty"`
}

type Document struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Authority     string         `json:"authority"`
	Type          DocumentType   `json:"type"`
	Jurisdiction  string         `json:"jurisdiction"`
	Status        DocumentStatus `json:"status"`
	PublishedAt   time.Time      `json:"published_at,omitzero"`
	EffectiveDate time.Time      `json:"effective_date,omitzero"`
	Language      string         `json:"language,omitempty"`
}

// Embedding attaches a dense vector to a chunk. Rows are append-only: a
// re-embedded chunk gets a new row, never an in-place mutation.
type Embedding struct {
	ChunkID string    `json:"chunk_id"`
	Model   string    `json:"model"`
	Version string    `json:"version"`
	Vector  []float32 `json:"vector"`
}

// chunkTextBounds returns the accepted [min,max] rune length for a chunk type.
// Definitions run short, tables and annexes long.
func chunkTextBounds(t ChunkType) (int, int) {
	switch t {
	case ChunkDefinition:
		return 20, 1200
	case ChunkHeading:
		return 3, 300
	case ChunkTable:
		return 20, 12000
	default:
		return 20, 6000
	}
}

// ValidTextLength reports whether the chunk text falls inside the bounds for
// its type.
func (c Chunk) ValidTextLength() bool {
	lo, hi := chunkTextBounds(c.Type)
	n := len([]rune(c.Text))
	return n >= lo && n <= hi
}

// IsDefinitional reports whether the chunk carries normative meaning on its
// own, used for tie-breaking at equal similarity.
func (c Chunk) IsDefinitional() bool {
	return c.Type == ChunkDefinition || c.Type == ChunkRequirement
}
