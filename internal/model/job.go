package model

import (
	"time"

	"gorm.io/gorm"
)

type JobType string

const (
	JobTypeFull        JobType = "full"
	JobTypeIncremental JobType = "incremental"
)

type ScheduleType string

const (
	ScheduleOnce    ScheduleType = "once"
	ScheduleDaily   ScheduleType = "daily"
	ScheduleMonthly ScheduleType = "monthly"
)

// ErrorPolicy decides what a run does when a single file fails to copy.
type ErrorPolicy string

const (
	ErrorPolicyStop ErrorPolicy = "stop"
	ErrorPolicySkip ErrorPolicy = "skip"
)

type Job struct {
	gorm.Model
	Name            string       `gorm:"not null"`
	SourcePath      string       `gorm:"not null"`
	DestinationPath string       `gorm:"not null"`
	JobType         JobType      `gorm:"not null"`
	ScheduleType    ScheduleType `gorm:"not null"`

	// ScheduleValue depends on ScheduleType: a comma-separated set of
	// weekday names for daily, a day-of-month for monthly, a YYYY-MM-DD
	// date for once.
	ScheduleValue string `gorm:"not null"`

	// ScheduleTime is the time of day in HH:MM.
	ScheduleTime string `gorm:"not null"`

	ErrorPolicy ErrorPolicy `gorm:"not null;default:'skip'"`
	Active      bool        `gorm:"not null;default:true"`
	LastRun     *time.Time
	NextRun     *time.Time
}
