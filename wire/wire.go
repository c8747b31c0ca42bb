// Package wire serializes values for storage and peers.
//
// Marshal produces JSON with a privacy filter applied at every depth: object
// keys starting with "_" and the keys in Blacklist are dropped. Key order of
// the input encoding is preserved and HTML characters are not escaped.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Blacklist holds keys that never leave the device.
var Blacklist = map[string]struct{}{
	"localPath":   {},
	"privateKey":  {},
	"isUploading": {},
}

// Scrubbed reports whether key is removed by Marshal.
func Scrubbed(key string) bool {
	if strings.HasPrefix(key, "_") {
		return true
	}
	_, ok := Blacklist[key]
	return ok
}

// Marshal encodes v as scrubbed JSON.
func Marshal(v any) ([]byte, error) {
	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return Scrub(raw.Bytes())
}

// Scrub applies the privacy filter to an already encoded JSON document.
func Scrub(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out bytes.Buffer
	if err := scrubValue(dec, &out); err != nil {
		return nil, fmt.Errorf("wire: scrub: %w", err)
	}
	return out.Bytes(), nil
}

// Unmarshal decodes JSON produced by Marshal.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

func scrubValue(dec *json.Decoder, out *bytes.Buffer) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return scrubObject(dec, out)
		case '[':
			return scrubArray(dec, out)
		default:
			return fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		return writeString(out, t)
	case json.Number:
		out.WriteString(t.String())
	case bool:
		if t {
			out.WriteString("true")
		} else {
			out.WriteString("false")
		}
	case nil:
		out.WriteString("null")
	default:
		return fmt.Errorf("unexpected token %T", tok)
	}
	return nil
}

func scrubObject(dec *json.Decoder, out *bytes.Buffer) error {
	out.WriteByte('{')
	first := true
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %T", tok)
		}
		if Scrubbed(key) {
			var discard json.RawMessage
			if err := dec.Decode(&discard); err != nil {
				return err
			}
			continue
		}
		if !first {
			out.WriteByte(',')
		}
		first = false
		if err := writeString(out, key); err != nil {
			return err
		}
		out.WriteByte(':')
		if err := scrubValue(dec, out); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	out.WriteByte('}')
	return nil
}

func scrubArray(dec *json.Decoder, out *bytes.Buffer) error {
	out.WriteByte('[')
	first := true
	for dec.More() {
		if !first {
			out.WriteByte(',')
		}
		first = false
		if err := scrubValue(dec, out); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	out.WriteByte(']')
	return nil
}

func writeString(out *bytes.Buffer, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	out.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return nil
}
