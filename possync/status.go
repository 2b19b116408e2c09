// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

// RecordStatus is the result of reconciling one local record
type RecordStatus struct {
	LocalID  int64    `json:"local_id"`
	Status   string   `json:"status"`
	RemoteID *int64   `json:"remote_id,omitempty"`
	Message  string   `json:"message,omitempty"`
	Warnings []string `json:"warnings,omitempty"` // Reason* values
}

// DrainReport summarizes one drain call (possibly several passes)
type DrainReport struct {
	Drain    string         `json:"drain"`
	Passes   int            `json:"passes"`
	Statuses []RecordStatus `json:"statuses"`
}

// Synced counts records removed from the local store
func (r *DrainReport) Synced() int {
	return r.count(func(s RecordStatus) bool { return s.Status == StSynced || s.Status == StSyncedPartial })
}

// Kept counts records left in the local store for the next drain
func (r *DrainReport) Kept() int {
	return len(r.Statuses) - r.Synced()
}

func (r *DrainReport) count(pred func(RecordStatus) bool) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, s := range r.Statuses {
		if pred(s) {
			n++
		}
	}
	return n
}

func (r *DrainReport) merge(other *DrainReport) {
	if other == nil {
		return
	}
	r.Passes += other.Passes
	r.Statuses = append(r.Statuses, other.Statuses...)
}

// SyncReport is the result of SyncNow
type SyncReport struct {
	Transactions   *DrainReport `json:"transactions"`
	ProductUpdates *DrainReport `json:"product_updates"`
	Sales          *DrainReport `json:"sales"`
	PendingCount   int          `json:"pending_count"`
}

func statusSynced(localID int64, remoteID *int64, warnings []string) RecordStatus {
	st := StSynced
	if len(warnings) > 0 {
		st = StSyncedPartial
	}
	return RecordStatus{LocalID: localID, Status: st, RemoteID: remoteID, Warnings: warnings}
}

func statusFailed(localID int64, status string, err error) RecordStatus {
	return RecordStatus{LocalID: localID, Status: status, Message: err.Error()}
}
