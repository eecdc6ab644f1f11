// Package trace records observer notifications in a stable, replayable form.
//
// A Notification is the name-resolved copy of one observer invocation. It is
// what the harness compares against golden files and what the store
// persists. Notifications are identified by a content-addressed id computed
// over their canonical JSON, so two runs that notify the same observers with
// the same data produce the same ids.
//
// Key constraints:
//   - no float fields, values are rendered as strings
//   - logical ordering only (Seq, EventID), never wall-clock time
//   - JSON tags use snake_case
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed ids. The version suffix allows the
// hashed layout to change without colliding with old ids.
const (
	DomainNotification = "flecs/notification/v1"
	DomainRun          = "flecs/run/v1"
)

// Notification is one observer invocation.
type Notification struct {
	ID       string   `json:"id,omitempty"`
	RunID    string   `json:"run_id"`
	Seq      int64    `json:"seq"`
	EventID  uint64   `json:"event_id"`
	Event    string   `json:"event"`
	Observer string   `json:"observer"`
	Term     string   `json:"id_term"`
	Table    string   `json:"table"`
	Source   string   `json:"source,omitempty"`
	Offset   int      `json:"offset"`
	Count    int      `json:"count"`
	Entities []string `json:"entities"`
	Value    string   `json:"value,omitempty"`
}

// Run summarizes one scenario execution.
type Run struct {
	ID            string `json:"id"`
	Scenario      string `json:"scenario"`
	Pass          bool   `json:"pass"`
	EventCounter  uint64 `json:"event_counter"`
	EmitTimeNS    int64  `json:"emit_time_ns"`
	Notifications int    `json:"notifications"`
	Digest        string `json:"digest"`
}

// Object returns the fields that make up the notification identity.
func (n *Notification) Object() map[string]any {
	entities := n.Entities
	if entities == nil {
		entities = []string{}
	}
	return map[string]any{
		"run_id":   n.RunID,
		"seq":      n.Seq,
		"event_id": n.EventID,
		"event":    n.Event,
		"observer": n.Observer,
		"id_term":  n.Term,
		"table":    n.Table,
		"source":   n.Source,
		"offset":   n.Offset,
		"count":    n.Count,
		"entities": entities,
		"value":    n.Value,
	}
}

// hashWithDomain computes SHA256(domain + 0x00 + data). The separator keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NotificationID computes the content-addressed id of n. The ID field itself
// is not part of the hash.
func NotificationID(n *Notification) (string, error) {
	canonical, err := MarshalCanonical(n.Object())
	if err != nil {
		return "", fmt.Errorf("NotificationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainNotification, canonical), nil
}

// MustNotificationID is like NotificationID but panics on error.
// Use only in tests or when the notification is known to be valid.
func MustNotificationID(n *Notification) string {
	id, err := NotificationID(n)
	if err != nil {
		panic(err)
	}
	return id
}

// Digest summarizes an ordered notification list. Two runs with the same
// digest notified the same observers in the same order with the same data.
func Digest(notes []Notification) (string, error) {
	arr := make([]any, len(notes))
	for i := range notes {
		id, err := NotificationID(&notes[i])
		if err != nil {
			return "", fmt.Errorf("notification %d: %w", i, err)
		}
		arr[i] = id
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRun, canonical), nil
}
