package feedcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EventType is the kind of row change reported by the push stream.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ParseEventType accepts the backend's upper or lower case spelling.
func ParseEventType(value string) (EventType, error) {
	switch eventType := EventType(strings.ToLower(strings.TrimSpace(value))); eventType {
	case EventInsert, EventUpdate, EventDelete:
		return eventType, nil
	default:
		return "", fmt.Errorf("unknown event type %q", value)
	}
}

// Table names a backend table that can appear on the push stream.
type Table string

const (
	TablePosts    Table = "posts"
	TableLikes    Table = "likes"
	TableComments Table = "comments"
	TableSaves    Table = "saves"
)

// RawChange is the payload delivered by a push channel.
type RawChange struct {
	EventType string         `json:"eventType"`
	Table     string         `json:"table"`
	New       map[string]any `json:"new,omitempty"`
	Old       map[string]any `json:"old,omitempty"`
}

// DecodeRawChange parses the JSON wire form used by the bundled push drivers.
func DecodeRawChange(body []byte) (RawChange, error) {
	var raw RawChange
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return RawChange{}, fmt.Errorf("decode change: %w", err)
	}
	return raw, nil
}

// EncodeRawChange renders raw in the JSON wire form.
func EncodeRawChange(raw RawChange) ([]byte, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode change: %w", err)
	}
	return body, nil
}

// Change is a normalized push event.
type Change struct {
	Type     EventType
	Table    Table
	RecordID string
	// PostID is the post the change affects: the record itself for posts,
	// the referenced post for likes, comments and saves.
	PostID string
	// UserID is the actor for likes, comments and saves.
	UserID string
	// Location and PostType are only set for posts.
	Location LocationKey
	PostType PostType
}

var errEmptyChange = errors.New("change has no row")

// Normalize converts a raw push payload into a Change.
func Normalize(raw RawChange) (Change, error) {
	eventType, err := ParseEventType(raw.EventType)
	if err != nil {
		return Change{}, err
	}
	table := parseTable(raw.Table)
	if table == "" {
		return Change{}, errors.New("change has no table")
	}
	row := raw.New
	if len(row) == 0 {
		row = raw.Old
	}
	if len(row) == 0 {
		return Change{}, errEmptyChange
	}

	change := Change{
		Type:     eventType,
		Table:    table,
		RecordID: field(row, "id"),
	}
	switch table {
	case TablePosts:
		change.PostID = change.RecordID
		change.Location = LocationKey{
			Neighborhood: field(row, "neighborhood"),
			City:         field(row, "city"),
			State:        field(row, "state"),
		}
		change.PostType = PostType(field(row, "post_type"))
	default:
		change.PostID = field(row, "post_id")
		change.UserID = field(row, "user_id")
	}
	return change, nil
}

func parseTable(value string) Table {
	return Table(strings.ToLower(strings.TrimSpace(value)))
}

func field(row map[string]any, name string) string {
	value, ok := row[name]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
