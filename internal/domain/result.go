package domain

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// SpeakingResult is the grading outcome the agent submits once, at most,
// per exam session. Edits after submission happen in the grading workbench,
// not here.
type SpeakingResult struct {
	ExamID      string    `json:"examId" validate:"required"`
	CandidateID string    `json:"candidateId" validate:"required"`
	AgentID     string    `json:"agentId" validate:"required"`
	Marks       int       `json:"marks" validate:"min=0,max=100"`
	Feedback    string    `json:"feedback" validate:"required,notblank"`
	Timestamp   time.Time `json:"timestamp"`
}

var resultValidate *validator.Validate

func init() {
	resultValidate = validator.New()

	// Use JSON tag names for errors instead of Go struct names.
	resultValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = resultValidate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Validate checks the result client-side. A non-nil error blocks any
// network call (marks outside [0,100], blank feedback, missing ids).
func (r SpeakingResult) Validate() error {
	return resultValidate.Struct(r)
}
