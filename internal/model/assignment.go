package model

import "time"

// AssignmentStatus は課題の進捗状態を表す。
type AssignmentStatus string

const (
	StatusPending    AssignmentStatus = "pending"
	StatusInProgress AssignmentStatus = "in-progress"
	StatusCompleted  AssignmentStatus = "completed"
)

// Valid は状態が定義済みの値かを返す。
func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority は課題の優先度を表す。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid は優先度が定義済みの値かを返す。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Assignment はプロジェクト内の課題を表す。
type Assignment struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	DueDate     *time.Time
	Status      AssignmentStatus
	Priority    Priority
	CreatedBy   string
	Assignees   []User
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// StatusPending はStatusが未確定の楽観的更新であることを示す。
	StatusPending bool
}

// Comment は課題へのコメントを表す。作成後は変更されない。
type Comment struct {
	ID           string
	AssignmentID string
	AuthorID     string
	AuthorName   string
	Content      string
	CreatedAt    time.Time
}

// Attachment は課題の添付ファイルを表す。
// 実体はオブジェクトストレージの StoragePath に保存される。
type Attachment struct {
	ID           string
	AssignmentID string
	Filename     string
	ContentType  string
	StoragePath  string
	Size         int64
	UploadedBy   string
	CreatedAt    time.Time
}
