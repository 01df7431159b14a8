package trends

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one topic's counts, one per sorted date.
type Row struct {
	Topic  string
	Counts []int
}

func (r Row) Total() int {
	total := 0
	for _, c := range r.Counts {
		total += c
	}
	return total
}

// Matrix is ordered by descending total, ties by topic name. It encodes as a
// JSON object whose key order is the row order.
type Matrix []Row

func (m Matrix) Topics() []string {
	out := make([]string, len(m))
	for i, r := range m {
		out[i] = r.Topic
	}
	return out
}

// Top returns at most n leading rows.
func (m Matrix) Top(n int) Matrix {
	if n < len(m) {
		return m[:n]
	}
	return m
}

func (m Matrix) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, row := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(row.Topic)
		if err != nil {
			return nil, err
		}
		counts := row.Counts
		if counts == nil {
			counts = []int{}
		}
		val, err := json.Marshal(counts)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the key order of the encoded object.
func (m *Matrix) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("trend matrix must be a JSON object")
	}

	out := Matrix{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		topic, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected trend matrix key %v", tok)
		}
		var counts []int
		if err := dec.Decode(&counts); err != nil {
			return fmt.Errorf("trend matrix row %q: %w", topic, err)
		}
		out = append(out, Row{Topic: topic, Counts: counts})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*m = out
	return nil
}
