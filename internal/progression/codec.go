package progression

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/verte-zerg/rolens/internal/model"
)

// ErrFormat is returned for documents that do not have the expected table shape.
var ErrFormat = errors.New("invalid progression table format")

// Document is the full table, keyed by track.
type Document map[model.Track]Levels

func (d Document) clone() Document {
	out := make(Document, len(d))
	for track, levels := range d {
		out[track] = levels.clone()
	}
	return out
}

type fileDocument struct {
	Base Levels `json:"base"`
	Job  Levels `json:"job,omitempty"`
}

// Encode renders the document as indented JSON with levels in numeric order.
// The base track is always present, job only when it has entries.
func Encode(doc Document) ([]byte, error) {
	out := fileDocument{Base: doc[model.TrackBase], Job: doc[model.TrackJob]}
	if out.Base == nil {
		out.Base = Levels{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode table: %w", err)
	}
	return append(data, '\n'), nil
}

// MarshalJSON writes levels sorted numerically rather than lexically.
func (l Levels) MarshalJSON() ([]byte, error) {
	keys := make([]int, 0, len(l))
	for level := range l {
		keys = append(keys, int(level))
	}
	sort.Ints(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, level := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(level)))
		buf.WriteByte(':')
		entry, err := json.Marshal(l[uint16(level)])
		if err != nil {
			return nil, err
		}
		buf.Write(entry)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses a table document. Legacy files that map a level straight to an integer are read
// as unconfirmed entries. When requireBase is set a missing top-level "base" key is an error.
func Decode(data []byte, requireBase bool) (Document, error) {
	doc := Document{}
	if len(bytes.TrimSpace(data)) == 0 {
		if requireBase {
			return nil, fmt.Errorf("%w: empty document", ErrFormat)
		}
		return doc, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if _, ok := top[string(model.TrackBase)]; !ok && requireBase {
		return nil, fmt.Errorf("%w: missing %q key", ErrFormat, model.TrackBase)
	}
	for _, track := range model.Tracks {
		raw, ok := top[string(track)]
		if !ok {
			continue
		}
		levels, err := decodeLevels(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", track, err)
		}
		doc[track] = levels
	}
	return doc, nil
}

func decodeLevels(raw json.RawMessage) (Levels, error) {
	var byKey map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	levels := make(Levels, len(byKey))
	for key, value := range byKey {
		level, err := strconv.ParseUint(key, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: level key %q", ErrFormat, key)
		}
		entry, err := decodeEntry(value)
		if err != nil {
			return nil, fmt.Errorf("level %s: %w", key, err)
		}
		// "07" and "7" name the same level; keep both observations.
		if cur, ok := levels[uint16(level)]; ok {
			entry = Merge(cur, entry)
		}
		levels[uint16(level)] = entry
	}
	return levels, nil
}

func decodeEntry(raw json.RawMessage) (Entry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var entry Entry
		if err := json.Unmarshal(trimmed, &entry); err != nil {
			return Entry{}, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		return entry, nil
	}
	var xp uint64
	if err := json.Unmarshal(trimmed, &xp); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return Entry{XP: xp}, nil
}
