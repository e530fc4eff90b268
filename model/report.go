package model

import "time"

// StorageResult is returned by the storage writer for one namespace.
type StorageResult struct {
	Total       int      `json:"total"` // NEW articles handed to the writer
	StoredCount int      `json:"stored_count"`
	StoredIDs   []string `json:"stored_ids,omitempty"`
	FailedIDs   []string `json:"failed_ids,omitempty"`
}

// SuccessRate is the share of handed over articles that were stored.
// Nothing to store counts as full success.
func (r StorageResult) SuccessRate() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.StoredCount) / float64(r.Total)
}

// Digest is the accepted set of one company handed to notification.
type Digest struct {
	Company     string        `json:"company"`
	Namespace   string        `json:"namespace"`
	Articles    []Article     `json:"articles"` // Ordered by relevance, highest first
	Storage     StorageResult `json:"storage"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// CompanyReport accounts for every candidate of one company.
// Collected always equals EmbedFailed + New + Duplicate + Unknown.
type CompanyReport struct {
	Company     string        `json:"company"`
	Namespace   string        `json:"namespace"`
	Collected   int           `json:"collected"`
	Embedded    int           `json:"embedded"`
	EmbedFailed int           `json:"embed_failed"`
	New         int           `json:"new"`
	Duplicate   int           `json:"duplicate"`
	Unknown     int           `json:"unknown"`
	Stored      int           `json:"stored"`
	StoreFailed int           `json:"store_failed"`
	FailedIDs   []string      `json:"failed_ids,omitempty"`
	Aborted     bool          `json:"aborted"`
	AbortReason string        `json:"abort_reason,omitempty"`
	NotifyError string        `json:"notify_error,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Failed is the number of candidates that did not reach a definite outcome plus failed writes.
func (r CompanyReport) Failed() int {
	return r.EmbedFailed + r.Unknown + r.StoreFailed
}

// Accounted reports whether every collected candidate has exactly one outcome.
func (r CompanyReport) Accounted() bool {
	return r.Collected == r.EmbedFailed+r.New+r.Duplicate+r.Unknown
}

// RunReport summarizes one pipeline run over all companies.
type RunReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Companies  []CompanyReport `json:"companies"`
}

// Totals sums the counters of all companies.
func (r RunReport) Totals() CompanyReport {
	total := CompanyReport{Company: "total"}
	for _, c := range r.Companies {
		total.Collected += c.Collected
		total.Embedded += c.Embedded
		total.EmbedFailed += c.EmbedFailed
		total.New += c.New
		total.Duplicate += c.Duplicate
		total.Unknown += c.Unknown
		total.Stored += c.Stored
		total.StoreFailed += c.StoreFailed
		if c.Aborted {
			total.Aborted = true
		}
	}
	total.Duration = r.FinishedAt.Sub(r.StartedAt)
	return total
}

// NamespaceStats describes the stored history of one namespace.
type NamespaceStats struct {
	Namespace    string    `json:"namespace" yaml:"namespace"`
	Entries      int64     `json:"entries" yaml:"entries"`
	LastStoredAt time.Time `json:"last_stored_at" yaml:"last_stored_at"`
}
