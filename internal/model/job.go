package model

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

type JobKind string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFail       JobStatus = "fail"
)

const (
	JobKindProvision  JobKind = "provision"
	JobKindRegenerate JobKind = "regenerate"
)

type Job struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Kind             JobKind    `db:"kind" json:"kind"`
	Data             string     `db:"data" json:"data"`
	Status           JobStatus  `db:"status" json:"status"`
	TotalRecord      int        `db:"total_record" json:"total_record"`
	TotalRecordAdd   int        `db:"total_record_add" json:"total_record_add"`
	TotalRecordExist int        `db:"total_record_exist" json:"total_record_exist"`
	TotalRecordError int        `db:"total_record_error" json:"total_record_error"`
	InsertDate       time.Time  `db:"insert_date" json:"insert_date"`
	UpdateDate       *time.Time `db:"update_date" json:"update_date,omitempty"`
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFail
}
