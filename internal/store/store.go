// Package store provides keyed durable storage for the core's
// authoritative state: assignments, leases, decisions, artifact index,
// and agent registrations. Two backends exist: an embedded JSON-file
// key-value store for single-node deployments and a SQLite store for
// anything shared. Multi-field mutations are journaled as one opaque
// record per key, so no cross-key transactions are needed.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound marks a missing key.
var ErrNotFound = errors.New("store: key not found")

// IsNotFound reports whether err is the missing-key sentinel.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Store is keyed durable storage. Writes are atomic per key and durable
// before they return.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	// Scan returns all key/value pairs under the prefix, key-ordered.
	Scan(prefix string) ([]KV, error)
	Close() error
}

// KV is one scanned pair.
type KV struct {
	Key   string
	Value []byte
}

// Conceptual key layout (see also the typed helpers below). Leases have
// no keyspace of their own; the active lease rides inside the agent's
// assignment record.
//
//	tasks/<task_id>                     task record
//	assignments/<agent_id>              assignment record, lease included
//	decisions/<task_id>/<decision_id>   decision record
//	artifacts/<task_id>/<artifact_id>   artifact metadata
//	agents/<agent_id>                   registration and counters

func TaskKey(taskID string) string            { return "tasks/" + taskID }
func AssignmentKey(agentID string) string     { return "assignments/" + agentID }
func DecisionKey(taskID, decID string) string { return fmt.Sprintf("decisions/%s/%s", taskID, decID) }
func ArtifactKey(taskID, artID string) string { return fmt.Sprintf("artifacts/%s/%s", taskID, artID) }
func AgentKey(agentID string) string          { return "agents/" + agentID }
func DecisionPrefix(taskID string) string     { return "decisions/" + taskID + "/" }
func ArtifactPrefix(taskID string) string     { return "artifacts/" + taskID + "/" }

// PutJSON marshals v and writes it under key.
func PutJSON(s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(key, data)
}

// GetJSON reads key and unmarshals into v.
func GetJSON(s Store, key string, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
