package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestQuarryError_Error(t *testing.T) {
	err := &QuarryError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "source not found",
	}

	expected := "NOT_FOUND: source not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("url is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "url is required" {
		t.Errorf("Message = %q, want %q", err.Message, "url is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("source", "01HX")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Message != "source not found: 01HX" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Details["identifier"] != "01HX" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01HX")
	}
}

func TestNewTrainingInProgress(t *testing.T) {
	err := NewTrainingInProgress("p1")

	if err.Code != ErrTrainingInProgress {
		t.Errorf("Code = %q, want %q", err.Code, ErrTrainingInProgress)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["project_id"] != "p1" {
		t.Errorf("Details[project_id] = %v", err.Details["project_id"])
	}
}

func TestNewPayloadTooLarge(t *testing.T) {
	err := NewPayloadTooLarge("docs/a.md", 100, 150)

	if err.Status != 413 {
		t.Errorf("Status = %d, want 413", err.Status)
	}
	if err.Details["max_chars"] != 100 || err.Details["actual_chars"] != 150 {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestNewSourceFetchFailed(t *testing.T) {
	err := NewSourceFetchFailed("acme/docs", fmt.Errorf("status 404"))

	if err.Code != ErrSourceFetchFailed {
		t.Errorf("Code = %q, want %q", err.Code, ErrSourceFetchFailed)
	}
	if err.Message != "failed to fetch acme/docs: status 404" {
		t.Errorf("Message = %q", err.Message)
	}

	bare := NewSourceFetchFailed("acme/docs", nil)
	if bare.Message != "failed to fetch acme/docs" {
		t.Errorf("Message = %q", bare.Message)
	}
}

func TestNewInternal(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{name: "with error", err: fmt.Errorf("disk full"), wantMsg: "disk full"},
		{name: "nil error", err: nil, wantMsg: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewInternal(tt.err)
			if err.Status != 500 {
				t.Errorf("Status = %d, want 500", err.Status)
			}
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
		})
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{name: "matching code", err: NewNotFound("project", "x"), code: ErrNotFound, want: true},
		{name: "different code", err: NewNotFound("project", "x"), code: ErrConflict, want: false},
		{name: "wrapped", err: fmt.Errorf("add: %w", NewConflict("dup")), code: ErrConflict, want: true},
		{name: "plain error", err: stderrors.New("boom"), code: ErrInternal, want: false},
		{name: "nil", err: nil, code: ErrInternal, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	if got := Message(NewInvalidRequest("bad url")); got != "bad url" {
		t.Errorf("Message() = %q, want %q", got, "bad url")
	}
	if got := Message(stderrors.New("network down")); got != "network down" {
		t.Errorf("Message() = %q, want %q", got, "network down")
	}
	if got := Message(nil); got != "" {
		t.Errorf("Message(nil) = %q, want empty", got)
	}
}
