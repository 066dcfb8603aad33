package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/chatmem/internal/engine"
)

// document is the object form of a transcript file. A bare list of
// messages is accepted too.
type document struct {
	SessionID string                   `json:"session_id" yaml:"session_id"`
	Messages  []engine.IncomingMessage `json:"messages" yaml:"messages"`
}

// Transcript is a decoded guest transcript.
type Transcript struct {
	// SessionID is the target session named by the file, if any.
	SessionID string

	// Messages are the untrusted incoming messages, in file order.
	Messages []engine.IncomingMessage
}

// FormatFromPath guesses the transcript format from a file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return "jsonl"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// Decode reads a transcript in the given format (json, jsonl or yaml).
// Content is not validated here; MergeTranscript rejects bad messages.
func Decode(r io.Reader, format string) (*Transcript, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	switch format {
	case "json":
		return decodeJSON(data)
	case "jsonl":
		return decodeJSONL(data)
	case "yaml", "yml":
		return decodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, jsonl, yaml)", format)
	}
}

func decodeJSON(data []byte) (*Transcript, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []engine.IncomingMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, fmt.Errorf("failed to parse JSON transcript: %w", err)
		}
		return &Transcript{Messages: msgs}, nil
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON transcript: %w", err)
	}
	return &Transcript{SessionID: doc.SessionID, Messages: doc.Messages}, nil
}

func decodeJSONL(data []byte) (*Transcript, error) {
	t := &Transcript{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var msg engine.IncomingMessage
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return nil, fmt.Errorf("failed to parse line %d: %w", line, err)
		}
		t.Messages = append(t.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return t, nil
}

func decodeYAML(data []byte) (*Transcript, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse YAML transcript: %w", err)
	}
	if len(node.Content) == 0 {
		return &Transcript{}, nil
	}

	if node.Content[0].Kind == yaml.SequenceNode {
		var msgs []engine.IncomingMessage
		if err := node.Content[0].Decode(&msgs); err != nil {
			return nil, fmt.Errorf("failed to parse YAML transcript: %w", err)
		}
		return &Transcript{Messages: msgs}, nil
	}

	var doc document
	if err := node.Content[0].Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML transcript: %w", err)
	}
	return &Transcript{SessionID: doc.SessionID, Messages: doc.Messages}, nil
}
