package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNewBatchResult_CountsSuccess(t *testing.T) {
	results := []ItemResult{
		{Filename: "a.jpg", Status: StatusSuccess},
		{Filename: "b.jpg", Status: StatusFailedCorrection},
		{Filename: "c.jpg", Status: StatusSuccess},
		{Filename: "url_3", Status: StatusFailedDownload},
	}
	b := NewBatchResult("batch-1", results)
	if b.Total != 4 {
		t.Errorf("Total = %d, want 4", b.Total)
	}
	if b.Success != 2 {
		t.Errorf("Success = %d, want 2", b.Success)
	}
	if b.Results[1].Filename != "b.jpg" {
		t.Errorf("result order changed: %v", b.Results)
	}
}

func TestFailureKind_Fatal(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want bool
	}{
		{FailureDownload, true},
		{FailureCorrection, true},
		{FailureVision, false},
		{FailureBackground, false},
		{FailureUpload, false},
		{FailureGeneration, false},
		{FailureFrameMiss, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Fatal(); got != tt.want {
				t.Errorf("%s.Fatal() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestStageError_Unwrap(t *testing.T) {
	err := fmt.Errorf("item a.jpg: %w", NewStageError(FailureCorrection, "correct", ErrCorrectionFailed))
	if !errors.Is(err, ErrCorrectionFailed) {
		t.Error("errors.Is should find ErrCorrectionFailed through StageError")
	}
	if !IsFatal(err) {
		t.Error("correction failure should be fatal")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("plain error should carry no kind")
	}
}

func TestDefaultBackground(t *testing.T) {
	bg := DefaultBackground()
	if bg.IsSolid || bg.HexColor != "" {
		t.Errorf("DefaultBackground() = %+v, want {false, \"\"}", bg)
	}
}

func TestItemResult_MarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		res     ItemResult
		present []string
		absent  []string
	}{
		{
			name:    "success with nothing uploaded",
			res:     ItemResult{Filename: "a.jpg", Status: StatusSuccess, BackgroundInfo: &BackgroundInfo{IsSolid: true, HexColor: "#FFFFFF"}},
			present: []string{"corrected_image_url", "generations", "background_info"},
			absent:  []string{"error"},
		},
		{
			name:    "failed correction",
			res:     ItemResult{Filename: "b.jpg", Status: StatusFailedCorrection, Error: "boom"},
			present: []string{"filename", "status", "error"},
			absent:  []string{"corrected_image_url", "generations", "background_info"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.res)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(data, &fields); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			for _, k := range tt.present {
				if _, ok := fields[k]; !ok {
					t.Errorf("%s missing from %s", k, data)
				}
			}
			for _, k := range tt.absent {
				if _, ok := fields[k]; ok {
					t.Errorf("%s should be omitted from %s", k, data)
				}
			}
		})
	}

	data, _ := json.Marshal(ItemResult{Status: StatusSuccess})
	var got struct {
		Generations []GenerationResult `json:"generations"`
	}
	json.Unmarshal(data, &got)
	if got.Generations == nil {
		t.Errorf("generations = null in %s, want []", data)
	}
}
