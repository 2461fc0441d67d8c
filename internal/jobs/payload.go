package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Kind identifies the handler family of a job.
type Kind string

const (
	KindBulkSend      Kind = "bulk-send"
	KindImport        Kind = "import"
	KindAutomationRun Kind = "automation-run"
	KindChunkMerge    Kind = "chunk-merge"
)

// Kinds returns every supported job kind.
func Kinds() []Kind {
	return []Kind{KindBulkSend, KindImport, KindAutomationRun, KindChunkMerge}
}

// Valid reports whether k is a supported job kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBulkSend, KindImport, KindAutomationRun, KindChunkMerge:
		return true
	}
	return false
}

// Payload is the typed body of a job.
type Payload interface {
	Kind() Kind
	Validate() error
}

// BulkSendPayload sends one campaign template to a recipient list.
type BulkSendPayload struct {
	WorkspaceID string   `json:"workspace_id"`
	CampaignID  string   `json:"campaign_id"`
	TemplateID  string   `json:"template_id"`
	Recipients  []string `json:"recipients"`
	BatchSize   int      `json:"batch_size,omitempty"`
}

func (BulkSendPayload) Kind() Kind { return KindBulkSend }

func (p BulkSendPayload) Validate() error {
	var errs []error
	if p.WorkspaceID == "" {
		errs = append(errs, errors.New("workspace_id is required"))
	}
	if p.CampaignID == "" {
		errs = append(errs, errors.New("campaign_id is required"))
	}
	if p.TemplateID == "" {
		errs = append(errs, errors.New("template_id is required"))
	}
	if len(p.Recipients) == 0 {
		errs = append(errs, errors.New("recipients must not be empty"))
	}
	if p.BatchSize < 0 {
		errs = append(errs, errors.New("batch_size must not be negative"))
	}
	return errors.Join(errs...)
}

// ImportPayload imports contacts from a CSV file into a list.
type ImportPayload struct {
	WorkspaceID string `json:"workspace_id"`
	ListID      string `json:"list_id"`
	UploadID    string `json:"upload_id,omitempty"`
	SourcePath  string `json:"source_path"`
	DedupeField string `json:"dedupe_field,omitempty"`
}

func (ImportPayload) Kind() Kind { return KindImport }

func (p ImportPayload) Validate() error {
	var errs []error
	if p.WorkspaceID == "" {
		errs = append(errs, errors.New("workspace_id is required"))
	}
	if p.ListID == "" {
		errs = append(errs, errors.New("list_id is required"))
	}
	if p.SourcePath == "" {
		errs = append(errs, errors.New("source_path is required"))
	}
	return errors.Join(errs...)
}

// AutomationRunPayload executes automation steps for a set of contacts.
type AutomationRunPayload struct {
	WorkspaceID  string   `json:"workspace_id"`
	AutomationID string   `json:"automation_id"`
	ContactIDs   []string `json:"contact_ids"`
	Steps        []string `json:"steps"`
}

func (AutomationRunPayload) Kind() Kind { return KindAutomationRun }

func (p AutomationRunPayload) Validate() error {
	var errs []error
	if p.WorkspaceID == "" {
		errs = append(errs, errors.New("workspace_id is required"))
	}
	if p.AutomationID == "" {
		errs = append(errs, errors.New("automation_id is required"))
	}
	if len(p.Steps) == 0 {
		errs = append(errs, errors.New("steps must not be empty"))
	}
	return errors.Join(errs...)
}

// ChunkMergePayload reassembles an uploaded file from its chunks and hands
// the result to an import job.
type ChunkMergePayload struct {
	WorkspaceID string `json:"workspace_id"`
	ListID      string `json:"list_id"`
	UploadID    string `json:"upload_id"`
	ChunkDir    string `json:"chunk_dir"`
	TotalChunks int    `json:"total_chunks"`
	DestPath    string `json:"dest_path"`
}

func (ChunkMergePayload) Kind() Kind { return KindChunkMerge }

func (p ChunkMergePayload) Validate() error {
	var errs []error
	if p.WorkspaceID == "" {
		errs = append(errs, errors.New("workspace_id is required"))
	}
	if p.ListID == "" {
		errs = append(errs, errors.New("list_id is required"))
	}
	if p.UploadID == "" {
		errs = append(errs, errors.New("upload_id is required"))
	}
	if p.ChunkDir == "" {
		errs = append(errs, errors.New("chunk_dir is required"))
	}
	if p.TotalChunks < 1 {
		errs = append(errs, errors.New("total_chunks must be at least 1"))
	}
	if p.DestPath == "" {
		errs = append(errs, errors.New("dest_path is required"))
	}
	return errors.Join(errs...)
}

// Decode parses raw into the payload type for kind and validates it.
// Every failure is a PermanentError.
func Decode(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindBulkSend:
		p = &BulkSendPayload{}
	case KindImport:
		p = &ImportPayload{}
	case KindAutomationRun:
		p = &AutomationRunPayload{}
	case KindChunkMerge:
		p = &ChunkMergePayload{}
	default:
		return nil, Permanent(fmt.Errorf("%w %q", ErrUnknownKind, kind))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, Permanentf("failed to decode %s payload; %v", kind, err)
	}
	if err := p.Validate(); err != nil {
		return nil, Permanentf("invalid %s payload; %v", kind, err)
	}
	return p, nil
}

// Encode marshals a payload after validating it.
func Encode(p Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, Permanentf("invalid %s payload; %v", p.Kind(), err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload; %w", p.Kind(), err)
	}
	return raw, nil
}

// NormalizeAddress lowercases and validates an email address.
func NormalizeAddress(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", false
	}
	return strings.ToLower(parsed.Address), true
}
