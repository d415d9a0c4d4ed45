// Package domain holds the data types shared by every stage of the card
// restoration pipeline: work items, per-strategy generation results, the
// aggregated per-item record and the batch summary returned to callers.
package domain

import "encoding/json"

// ItemStatus is the terminal status of one processed card.
type ItemStatus string

const (
	StatusSuccess          ItemStatus = "success"
	StatusFailedCorrection ItemStatus = "failed_correction"
	StatusFailedDownload   ItemStatus = "failed_download"
)

// WorkItem is one card to restore. Source is the URL or filename it came
// from. Data is never modified after creation.
type WorkItem struct {
	Source string
	Data   []byte
}

// BackgroundInfo reports whether the card background is a single solid color.
type BackgroundInfo struct {
	IsSolid  bool   `json:"is_solid" dynamodbav:"isSolid"`
	HexColor string `json:"hex_color" dynamodbav:"hexColor"`
}

// DefaultBackground is substituted whenever classification fails.
func DefaultBackground() BackgroundInfo {
	return BackgroundInfo{IsSolid: false, HexColor: ""}
}

// GenerationResult carries the two permanent URLs produced by one strategy.
// Either URL may be empty when its upload failed.
type GenerationResult struct {
	StrategyName string `json:"strategy_name" dynamodbav:"strategyName"`
	CropImageURL string `json:"crop_image_url" dynamodbav:"cropImageUrl"`
	GenImageURL  string `json:"gen_image_url" dynamodbav:"genImageUrl"`
}

// ItemResult is the aggregated outcome for one work item. Status is success
// exactly when correction succeeded; every other failure only shrinks
// Generations or defaults BackgroundInfo.
type ItemResult struct {
	Filename          string             `json:"filename" dynamodbav:"filename"`
	Status            ItemStatus         `json:"status" dynamodbav:"status"`
	OriginalImageURL  string             `json:"original_image_url,omitempty" dynamodbav:"originalImageUrl,omitempty"`
	CorrectedImageURL string             `json:"corrected_image_url,omitempty" dynamodbav:"correctedImageUrl,omitempty"`
	BackgroundInfo    *BackgroundInfo    `json:"background_info,omitempty" dynamodbav:"backgroundInfo,omitempty"`
	Generations       []GenerationResult `json:"generations,omitempty" dynamodbav:"generations,omitempty"`
	Error             string             `json:"error,omitempty" dynamodbav:"error,omitempty"`
}

// MarshalJSON always emits corrected_image_url and generations for a
// successful item, even when the upload failed or no strategy produced a
// result. Failed items keep only the fields that apply to them.
func (r ItemResult) MarshalJSON() ([]byte, error) {
	type plain ItemResult
	if !r.Succeeded() {
		return json.Marshal(plain(r))
	}
	gens := r.Generations
	if gens == nil {
		gens = []GenerationResult{}
	}
	return json.Marshal(struct {
		plain
		CorrectedImageURL string             `json:"corrected_image_url"`
		Generations       []GenerationResult `json:"generations"`
	}{plain(r), r.CorrectedImageURL, gens})
}

// Succeeded reports whether the item reached the success status.
func (r ItemResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// BatchResult summarises one batch request.
type BatchResult struct {
	BatchID string       `json:"batch_id,omitempty" dynamodbav:"batchId"`
	Total   int          `json:"total" dynamodbav:"total"`
	Success int          `json:"success" dynamodbav:"success"`
	Results []ItemResult `json:"results" dynamodbav:"results"`
}

// NewBatchResult builds the summary from the per-item results, preserving
// their order.
func NewBatchResult(batchID string, results []ItemResult) BatchResult {
	b := BatchResult{BatchID: batchID, Total: len(results), Results: results}
	for _, r := range results {
		if r.Succeeded() {
			b.Success++
		}
	}
	return b
}
