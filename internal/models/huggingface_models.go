package models

type FillMaskParameters struct {
	TopK int `json:"top_k,omitempty"`
}

type FillMaskRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters FillMaskParameters `json:"parameters"`
}

type (
	FillMaskResponse  []FillMaskCandidate
	FillMaskCandidate struct {
		Score    float64 `json:"score"`
		Token    int     `json:"token"`
		TokenStr string  `json:"token_str"`
		Sequence string  `json:"sequence"`
	}
)

type TextGenerationParameters struct {
	MaxNewTokens       int  `json:"max_new_tokens,omitempty"`
	NumReturnSequences int  `json:"num_return_sequences,omitempty"`
	ReturnFullText     bool `json:"return_full_text"`
}

type TextGenerationRequest struct {
	Inputs     string                   `json:"inputs"`
	Parameters TextGenerationParameters `json:"parameters"`
}

type (
	TextGenerationResponse []TextGenerationOutput
	TextGenerationOutput   struct {
		GeneratedText string `json:"generated_text"`
	}
)

type TextClassificationRequest struct {
	Inputs []string `json:"inputs"`
}

type (
	// TextClassificationResponse holds one ranked label list per input.
	TextClassificationResponse [][]ClassificationLabel
	ClassificationLabel        struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
)

type DatasetRowsResponse struct {
	Rows []struct {
		RowIdx int `json:"row_idx"`
		Row    struct {
			Text string `json:"text"`
		} `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}
