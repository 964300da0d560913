package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

var csvHeader = []string{"at", "actor_id", "action", "category", "target_type", "target_id", "severity", "details"}

// WriteCSV encodes rows with a header line.
func WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		details := ""
		if len(row.Details) > 0 {
			raw, err := json.Marshal(row.Details)
			if err != nil {
				return nil, err
			}
			details = string(raw)
		}
		actor := ""
		if row.ActorID != 0 {
			actor = strconv.FormatInt(row.ActorID, 10)
		}
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			actor,
			row.Action,
			row.Category,
			row.TargetType,
			row.TargetID,
			row.Severity,
			details,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
