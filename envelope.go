package nss

import (
	"bytes"
	"encoding/json"
	"strings"
)

// NodesFile is the file hint that marks an envelope as a node transfer
// rather than a snippet to execute.
const NodesFile = "<nodes>"

// Envelope is the request sent by editors and peers.
// Text is the source snippet; File is an optional hint used for diagnostics.
type Envelope struct {
	Text string `json:"text"`
	File string `json:"file,omitempty"`
}

// IsNodes reports whether the envelope carries a node transfer.
func (e Envelope) IsNodes() bool {
	return e.File == NodesFile
}

// ParseEnvelope decodes a request blob.
// The blob must be a JSON object with a non-empty string field "text".
func ParseEnvelope(blob string) (Envelope, error) {
	var fields map[string]json.RawMessage

	dec := json.NewDecoder(strings.NewReader(blob))
	if err := dec.Decode(&fields); err != nil {
		return Envelope{}, &EnvelopeError{Reason: err.Error()}
	}
	if dec.More() {
		return Envelope{}, &EnvelopeError{Reason: "trailing data after document"}
	}
	if fields == nil {
		return Envelope{}, &EnvelopeError{Reason: "document is not an object"}
	}

	raw, ok := fields["text"]
	if !ok {
		return Envelope{}, &EnvelopeError{Reason: `missing "text" field`}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env.Text); err != nil {
		return Envelope{}, &EnvelopeError{Reason: `"text" is not a string`}
	}
	if env.Text == "" {
		return Envelope{}, &EnvelopeError{Reason: `"text" is empty`}
	}

	if raw, ok := fields["file"]; ok && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &env.File); err != nil {
			return Envelope{}, &EnvelopeError{Reason: `"file" is not a string`}
		}
	}

	return env, nil
}

// FormatRequest encodes an envelope into its wire form.
// An envelope without text is rejected.
func FormatRequest(env Envelope) (string, error) {
	if env.Text == "" {
		return "", &EnvelopeError{Reason: `"text" is empty`}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FormatReply prepares reply text for the given transport.
// Stream replies always end with a newline so line-oriented clients see a
// complete reply; message replies are sent verbatim.
func FormatReply(mode Mode, text string) string {
	if mode == Stream && !strings.HasSuffix(text, "\n") {
		return text + "\n"
	}
	return text
}
