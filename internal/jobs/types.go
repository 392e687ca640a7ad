package jobs

import (
	"errors"
	"fmt"
	"time"
)

// Status はセッションの実行状態を表します。
type Status string

const (
	StatusQueued     Status = "queued"
	StatusConverting Status = "converting"
	StatusExtracting Status = "extracting"
	StatusGenerating Status = "generating"
	StatusSaving     Status = "saving"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "error"
)

var (
	ErrSessionExists     = errors.New("session already exists")
	ErrSessionNotFound   = errors.New("session not found")
	ErrTerminalState     = errors.New("session is already terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueFull         = errors.New("task queue is full")
	ErrDispatcherClosed  = errors.New("dispatcher is closed")
)

// 各状態の次に許される非失敗状態
var nextStatus = map[Status]Status{
	StatusQueued:     StatusConverting,
	StatusConverting: StatusExtracting,
	StatusExtracting: StatusGenerating,
	StatusGenerating: StatusSaving,
	StatusSaving:     StatusCompleted,
}

var stepLabels = map[Status]string{
	StatusQueued:     "queued",
	StatusConverting: "converting_pdf",
	StatusExtracting: "extracting_text",
	StatusGenerating: "generating_summary",
	StatusSaving:     "saving_files",
}

// Terminal は完了または失敗のどちらかであれば true を返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step は状態に対応する表示用ステップ名を返します。終端状態では空です。
func (s Status) Step() string {
	return stepLabels[s]
}

// Update は遷移時に書き込むフィールドです。
type Update struct {
	ResultPath   string
	ErrorMessage string
}

// Record はセッションの現在状態を表します。
type Record struct {
	SessionID    string    `json:"sessionId"`
	FormatMode   string    `json:"formatMode,omitempty"`
	Status       Status    `json:"status"`
	CurrentStep  string    `json:"currentStep,omitempty"`
	ResultPath   string    `json:"resultPath,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

func newRecord(id, formatMode string, now time.Time, ttl time.Duration) Record {
	record := Record{
		SessionID:   id,
		FormatMode:  formatMode,
		Status:      StatusQueued,
		CurrentStep: StatusQueued.Step(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ttl > 0 {
		record.ExpiresAt = now.Add(ttl)
	}
	return record
}

// apply は遷移規則を検証し、新しいレコードを返します。元のレコードは変更しません。
func (r Record) apply(next Status, upd Update, now time.Time) (Record, error) {
	if r.Status.Terminal() {
		return r, fmt.Errorf("%w: %s is %s", ErrTerminalState, r.SessionID, r.Status)
	}

	out := r
	out.UpdatedAt = now

	switch next {
	case StatusFailed:
		msg := upd.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		out.Status = StatusFailed
		out.CurrentStep = ""
		out.ErrorMessage = msg
		out.ResultPath = ""
	case nextStatus[r.Status]:
		out.Status = next
		out.CurrentStep = next.Step()
		if next == StatusCompleted {
			if upd.ResultPath == "" {
				return r, fmt.Errorf("%w: completed without result path", ErrInvalidTransition)
			}
			out.ResultPath = upd.ResultPath
			out.ErrorMessage = ""
		}
	default:
		return r, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	return out, nil
}

// Task はワーカーへ渡すパイプライン実行要求です。
type Task struct {
	SessionID    string `json:"sessionId"`
	DocumentPath string `json:"documentPath"`
	FormatMode   string `json:"formatMode"`
}
