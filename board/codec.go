package board

import (
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// createdLayouts are tried in order. Layouts without an offset are read as UTC.
var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Encode serializes tasks in collection order.
func Encode(tasks []domain.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return sonic.ConfigStd.Marshal(tasks)
}

// Decode parses a persisted collection. Only a document that is not a JSON
// array is an error. Each record is read field by field: a field of the
// wrong type falls back to its default, unknown priorities become medium and
// unknown statuses become todo. Missing IDs and timestamps are left zero for
// the caller to fill in. Entries that are not objects are dropped.
func Decode(data []byte) ([]domain.Task, error) {
	tasks, _, err := decodeRecords(data)
	return tasks, err
}

// decodeRecords is Decode that also reports how many entries were dropped.
func decodeRecords(data []byte) ([]domain.Task, int, error) {
	var raws []sonic.NoCopyRawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &raws); err != nil {
		return nil, 0, err
	}
	tasks := make([]domain.Task, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		var fields map[string]sonic.NoCopyRawMessage
		if err := sonic.ConfigStd.Unmarshal(raw, &fields); err != nil || fields == nil {
			dropped++
			continue
		}
		tasks = append(tasks, taskFromFields(fields))
	}
	return tasks, dropped, nil
}

func taskFromFields(fields map[string]sonic.NoCopyRawMessage) domain.Task {
	status, ok := domain.ParseStatus(stringField(fields["status"]))
	if !ok {
		status = domain.StatusTodo
	}
	return domain.Task{
		ID:          idField(fields["id"]),
		Title:       stringField(fields["title"]),
		Description: stringField(fields["description"]),
		Priority:    domain.ParsePriority(stringField(fields["priority"])),
		Status:      status,
		CreatedAt:   timeField(fields["createdAt"]),
	}
}

// stringField reads a string, keeping the literal text of numbers and
// booleans. Objects, arrays and null read as empty.
func stringField(raw sonic.NoCopyRawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := sonic.ConfigStd.Unmarshal(raw, &s); err == nil {
		return s
	}
	lit := strings.TrimSpace(string(raw))
	if lit == "" || lit == "null" || lit[0] == '{' || lit[0] == '[' {
		return ""
	}
	return lit
}

func idField(raw sonic.NoCopyRawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := sonic.ConfigStd.Unmarshal(raw, &n); err == nil {
		return n
	}
	var f float64
	if err := sonic.ConfigStd.Unmarshal(raw, &f); err == nil && f == float64(int64(f)) {
		return int64(f)
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(stringField(raw)), 10, 64); err == nil {
		return n
	}
	return 0
}

// timeField accepts ISO-8601 text or epoch milliseconds.
func timeField(raw sonic.NoCopyRawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var ms int64
	if err := sonic.ConfigStd.Unmarshal(raw, &ms); err == nil {
		if ms <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(ms).UTC()
	}
	return parseCreated(stringField(raw))
}

func parseCreated(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range createdLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts
		}
	}
	return time.Time{}
}
