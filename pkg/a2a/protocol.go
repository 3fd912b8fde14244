// Package a2a is the Agent-to-Agent (A2A) wire vocabulary used between the host
// and the remote agents. The types are those of github.com/a2aproject/a2a-go; this
// package adds the canonical JSON codec, the validation rules the fabric enforces
// and the protocol error taxonomy.
package a2a

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	core "github.com/a2aproject/a2a-go/a2a"
)

// ============================================================================
// PROTOCOL CONSTANTS
// ============================================================================

const (
	// ProtocolVersion is advertised in every agent card.
	ProtocolVersion = "0.3.0"

	// WellKnownCardPath is the discovery path relative to an agent base URL.
	WellKnownCardPath = "/.well-known/agent.json"
)

// ============================================================================
// WIRE TYPES
// ============================================================================

type (
	AgentCard         = core.AgentCard
	AgentSkill        = core.AgentSkill
	AgentCapabilities = core.AgentCapabilities
	AgentProvider     = core.AgentProvider

	Message      = core.Message
	MessageRole  = core.MessageRole
	Part         = core.Part
	ContentParts = core.ContentParts
	TextPart     = core.TextPart
	DataPart     = core.DataPart
	FilePart     = core.FilePart
	FileBytes    = core.FileBytes
	FileURI      = core.FileURI

	Task       = core.Task
	TaskID     = core.TaskID
	TaskState  = core.TaskState
	TaskStatus = core.TaskStatus
	TaskInfo   = core.TaskInfo
	Artifact   = core.Artifact
	ArtifactID = core.ArtifactID

	Event                   = core.Event
	TaskStatusUpdateEvent   = core.TaskStatusUpdateEvent
	TaskArtifactUpdateEvent = core.TaskArtifactUpdateEvent
	SendMessageResult       = core.SendMessageResult

	MessageSendParams = core.MessageSendParams
	MessageSendConfig = core.MessageSendConfig
	TaskIDParams      = core.TaskIDParams
	TaskQueryParams   = core.TaskQueryParams
	PushConfig        = core.PushConfig
	PushAuthInfo      = core.PushAuthInfo
	TaskPushConfig    = core.TaskPushConfig

	GetTaskPushConfigParams = core.GetTaskPushConfigParams
	TransportProtocol       = core.TransportProtocol
)

// TransportProtocolJSONRPC is the only transport the fabric's agents serve.
const TransportProtocolJSONRPC = core.TransportProtocolJSONRPC

const (
	RoleUser  = core.MessageRoleUser
	RoleAgent = core.MessageRoleAgent
)

const (
	TaskStateSubmitted     = core.TaskStateSubmitted
	TaskStateWorking       = core.TaskStateWorking
	TaskStateInputRequired = core.TaskStateInputRequired
	TaskStateCompleted     = core.TaskStateCompleted
	TaskStateFailed        = core.TaskStateFailed
	TaskStateCanceled      = core.TaskStateCanceled
)

// ============================================================================
// AGENT CARD
// ============================================================================

// ValidateCard checks the card invariants: a name, a resolvable absolute url and
// unique skill ids.
func ValidateCard(c *AgentCard) error {
	if c == nil {
		return fmt.Errorf("agent card is required")
	}
	if c.Name == "" {
		return fmt.Errorf("agent card name is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("agent card url %q: %w", c.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent card url %q must be an absolute http(s) url", c.URL)
	}
	seen := make(map[string]bool, len(c.Skills))
	for _, s := range c.Skills {
		if s.ID == "" {
			return fmt.Errorf("skill %q has no id", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate skill id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// FindSkill returns the skill of the card with the given id.
func FindSkill(c *AgentCard, id string) (AgentSkill, bool) {
	i := slices.IndexFunc(c.Skills, func(s AgentSkill) bool { return s.ID == id })
	if i < 0 {
		return AgentSkill{}, false
	}
	return c.Skills[i], true
}

// AcceptsInputMode reports whether the card lists a default input mode matching the
// given media type. A mode ending in "/*" matches the whole family.
func AcceptsInputMode(c *AgentCard, mediaType string) bool {
	for _, m := range c.DefaultInputModes {
		if m == mediaType || m == "*/*" {
			return true
		}
		if family, ok := strings.CutSuffix(m, "/*"); ok && strings.HasPrefix(mediaType, family+"/") {
			return true
		}
	}
	return false
}

// ============================================================================
// MESSAGE & PARTS
// ============================================================================

// PartKind discriminates the Part union on the wire.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindData PartKind = "data"
	PartKindFile PartKind = "file"
)

// KindOfPart returns the wire kind of p, or "" for a part type the protocol does
// not define.
func KindOfPart(p Part) PartKind {
	switch p.(type) {
	case TextPart, *TextPart:
		return PartKindText
	case DataPart, *DataPart:
		return PartKindData
	case FilePart, *FilePart:
		return PartKindFile
	}
	return ""
}

// NewMessage builds a message with a fresh id.
func NewMessage(role MessageRole, parts ...Part) *Message {
	return core.NewMessage(role, parts...)
}

// NewAgentText is a shorthand for an agent message carrying a single text part.
func NewAgentText(text string) *Message {
	return NewMessage(RoleAgent, NewTextPart(text))
}

func NewTextPart(text string) Part {
	return TextPart{Text: text}
}

// NewDataPart builds a structured part. A nil map is sent as an empty object.
func NewDataPart(data map[string]any) Part {
	if data == nil {
		data = map[string]any{}
	}
	return DataPart{Data: data}
}

// NewFilePart builds an inline file part.
func NewFilePart(name, mimeType string, content []byte) Part {
	f := FileBytes{Bytes: base64.StdEncoding.EncodeToString(content)}
	f.Name = name
	f.MimeType = mimeType
	return FilePart{File: f}
}

// NewFileURIPart builds a file part referencing remote content.
func NewFileURIPart(name, mimeType, uri string) Part {
	f := FileURI{URI: uri}
	f.Name = name
	f.MimeType = mimeType
	return FilePart{File: f}
}

// FileContent decodes the inline bytes of a file part.
func FileContent(p FilePart) ([]byte, error) {
	f, ok := p.File.(FileBytes)
	if !ok {
		if fp, isPtr := p.File.(*FileBytes); isPtr && fp != nil {
			f, ok = *fp, true
		}
	}
	if !ok || f.Bytes == "" {
		return nil, fmt.Errorf("file part has no inline bytes")
	}
	return base64.StdEncoding.DecodeString(f.Bytes)
}

// FileInfo returns the name and media type of a file part.
func FileInfo(p FilePart) (name, mimeType string) {
	switch f := p.File.(type) {
	case FileBytes:
		return f.Name, f.MimeType
	case *FileBytes:
		return f.Name, f.MimeType
	case FileURI:
		return f.Name, f.MimeType
	case *FileURI:
		return f.Name, f.MimeType
	}
	return "", ""
}

// Attachment is a file part flattened for consumers. Inline content stays base64
// in Bytes; remote content is referenced by URI.
type Attachment struct {
	Name     string
	MimeType string
	Bytes    string
	URI      string
}

// AttachmentOf flattens a file part.
func AttachmentOf(p FilePart) *Attachment {
	a := &Attachment{}
	a.Name, a.MimeType = FileInfo(p)
	switch f := p.File.(type) {
	case FileBytes:
		a.Bytes = f.Bytes
	case *FileBytes:
		a.Bytes = f.Bytes
	case FileURI:
		a.URI = f.URI
	case *FileURI:
		a.URI = f.URI
	}
	return a
}

// Content decodes the inline bytes.
func (a *Attachment) Content() ([]byte, error) {
	if a.Bytes == "" {
		return nil, fmt.Errorf("file %q has no inline bytes", a.Name)
	}
	return base64.StdEncoding.DecodeString(a.Bytes)
}

// ValidateMessage checks that a message carries an id, a known role and at least
// one valid part.
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("message is required")
	}
	if m.ID == "" {
		return fmt.Errorf("messageId is required")
	}
	if m.Role != RoleUser && m.Role != RoleAgent {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message must have at least one part")
	}
	for i, p := range m.Parts {
		if err := ValidatePart(p); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// ValidatePart checks the union invariant of one part.
func ValidatePart(p Part) error {
	switch v := p.(type) {
	case TextPart, *TextPart:
		return nil
	case DataPart:
		if v.Data == nil {
			return fmt.Errorf("data part without data")
		}
		return nil
	case *DataPart:
		if v == nil || v.Data == nil {
			return fmt.Errorf("data part without data")
		}
		return nil
	case FilePart:
		return validateFile(v)
	case *FilePart:
		if v == nil {
			return fmt.Errorf("file part without file")
		}
		return validateFile(*v)
	case nil:
		return fmt.Errorf("part is required")
	default:
		return fmt.Errorf("unknown part type %T", p)
	}
}

func validateFile(p FilePart) error {
	switch f := p.File.(type) {
	case FileBytes:
		if f.Bytes == "" {
			return fmt.Errorf("file part must carry bytes or a uri")
		}
	case *FileBytes:
		if f == nil || f.Bytes == "" {
			return fmt.Errorf("file part must carry bytes or a uri")
		}
	case FileURI:
		if f.URI == "" {
			return fmt.Errorf("file part must carry bytes or a uri")
		}
	case *FileURI:
		if f == nil || f.URI == "" {
			return fmt.Errorf("file part must carry bytes or a uri")
		}
	default:
		return fmt.Errorf("file part without file")
	}
	return nil
}

// MessageText concatenates the text parts of the message, separated by newlines.
func MessageText(m *Message) string {
	if m == nil {
		return ""
	}
	return PartsText(m.Parts)
}

// PartsText joins the text parts of a part list.
func PartsText(parts []Part) string {
	var texts []string
	for _, p := range parts {
		var text string
		switch v := p.(type) {
		case TextPart:
			text = v.Text
		case *TextPart:
			text = v.Text
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}

// DataOf returns the payload of the first data part.
func DataOf(parts []Part) (map[string]any, bool) {
	for _, p := range parts {
		switch v := p.(type) {
		case DataPart:
			return v.Data, true
		case *DataPart:
			return v.Data, true
		}
	}
	return nil, false
}

// normalizeParts rewrites data parts whose payload decoded as null or went
// missing into empty objects, so a decoded part validates like the one that was
// encoded.
func normalizeParts(parts []Part) {
	for i, p := range parts {
		switch v := p.(type) {
		case DataPart:
			if v.Data == nil {
				v.Data = map[string]any{}
				parts[i] = v
			}
		case *DataPart:
			if v != nil && v.Data == nil {
				v.Data = map[string]any{}
			}
		}
	}
}

func normalizeMessage(m *Message) {
	if m != nil {
		normalizeParts(m.Parts)
	}
}

func normalizeTask(t *Task) {
	if t == nil {
		return
	}
	normalizeMessage(t.Status.Message)
	for _, m := range t.History {
		normalizeMessage(m)
	}
	for _, a := range t.Artifacts {
		if a != nil {
			normalizeParts(a.Parts)
		}
	}
}

// ============================================================================
// TASK
// ============================================================================

// IsTerminal reports whether no transition may leave the state.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// IsValidState reports whether s is one of the states the fabric drives tasks
// through.
func IsValidState(s TaskState) bool {
	switch s {
	case TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired,
		TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// Now returns the current time the way status timestamps are written.
func Now() *time.Time {
	t := time.Now().UTC()
	return &t
}

// TransitionsMetadataKey is the task metadata key recording every status the
// task went through. Task.History carries the messages exchanged.
const TransitionsMetadataKey = "stateTransitions"

// Transition is one entry of a task's status history.
type Transition struct {
	State     TaskState  `json:"state"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Transitions returns the recorded status history of t, oldest first.
func Transitions(t *Task) []Transition {
	if t == nil || t.Metadata == nil {
		return nil
	}
	switch v := t.Metadata[TransitionsMetadataKey].(type) {
	case nil:
		return nil
	case []Transition:
		return slices.Clone(v)
	default:
		// Decoded documents hold the history as plain JSON values.
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var out []Transition
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	}
}

// RecordTransition appends the given status to the history of t.
func RecordTransition(t *Task, status TaskStatus) {
	history := append(Transitions(t), Transition{State: status.State, Timestamp: status.Timestamp})
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[TransitionsMetadataKey] = history
}

// CloneTask returns a deep copy of the task.
func CloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("a2a: task %s is not serializable: %v", t.ID, err))
	}
	var out Task
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("a2a: task %s does not round-trip: %v", t.ID, err))
	}
	normalizeTask(&out)
	return &out
}

// ============================================================================
// RPC PARAMETERS
// ============================================================================

// IsBlocking reports the effective blocking flag of a send configuration, which
// defaults to true.
func IsBlocking(c *MessageSendConfig) bool {
	return c == nil || c.Blocking == nil || *c.Blocking
}

// NonBlocking is a send configuration that returns as soon as the task exists.
func NonBlocking() *MessageSendConfig {
	blocking := false
	return &MessageSendConfig{Blocking: &blocking}
}

// ValidatePushConfig checks that the webhook url is absolute.
func ValidatePushConfig(c *PushConfig) error {
	if c == nil {
		return fmt.Errorf("push notification config is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("push notification url %q must be an absolute http(s) url", c.URL)
	}
	return nil
}
