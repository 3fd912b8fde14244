package a2a

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes v as canonical JSON: object keys sorted at every depth, no HTML
// escaping and no insignificant whitespace. Encoding the same logical value always
// yields the same bytes, whichever struct or map shape produced it.
func Marshal(v any) ([]byte, error) {
	raw, err := encode(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw)
}

// Canonicalize rewrites an arbitrary JSON document into its canonical form.
// Numbers keep their literal spelling.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonicalize: trailing data after document")
	}
	return encode(generic)
}

// Unmarshal decodes a JSON document produced by Marshal or by any conforming peer.
// Numbers inside free-form values (data part payloads, metadata) decode as
// float64, so {"quantity":2} reads back as float64(2); canonical encoding writes
// integral floats without a fraction, which keeps the bytes stable. A data part
// whose payload is null or missing decodes as an empty object.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	Normalize(v)
	return nil
}

// Normalize applies the decoding rules of Unmarshal to a value another decoder
// produced, such as an event read by the a2a-go client.
func Normalize(v any) {
	switch x := v.(type) {
	case *Message:
		normalizeMessage(x)
	case *Task:
		normalizeTask(x)
	case *Artifact:
		normalizeParts(x.Parts)
	case *TaskStatusUpdateEvent:
		normalizeMessage(x.Status.Message)
	case *TaskArtifactUpdateEvent:
		if x.Artifact != nil {
			normalizeParts(x.Artifact.Parts)
		}
	case *MessageSendParams:
		normalizeMessage(x.Message)
	}
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
