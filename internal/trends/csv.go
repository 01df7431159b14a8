package trends

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteCSV writes a "Topic,<dates...>" header and one line per matrix row.
func WriteCSV(w io.Writer, r Result) error {
	cw := csv.NewWriter(w)

	header := append([]string{"Topic"}, r.Dates...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range r.Matrix {
		record := make([]string, 0, len(row.Counts)+1)
		record = append(record, row.Topic)
		for _, c := range row.Counts {
			record = append(record, strconv.Itoa(c))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
