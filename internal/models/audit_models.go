package models

import "time"

// AuditRecord is one model's response to one prompt. Records are append only.
type AuditRecord struct {
	ID          string    `json:"id" dynamodbav:"id" bson:"_id"`
	Prompt      string    `json:"prompt" dynamodbav:"prompt" bson:"prompt"`
	Model       string    `json:"model" dynamodbav:"model" bson:"model"`
	Type        ModelType `json:"type" dynamodbav:"type" bson:"type"`
	Predictions []string  `json:"predictions" dynamodbav:"predictions" bson:"predictions"`
	BiasFlags   []string  `json:"bias_flags" dynamodbav:"bias_flags" bson:"bias_flags"`
	Biased      bool      `json:"biased" dynamodbav:"biased" bson:"biased"`
	Sentiment   string    `json:"sentiment" dynamodbav:"sentiment" bson:"sentiment"`
	Timestamp   time.Time `json:"timestamp" dynamodbav:"timestamp" bson:"timestamp"`
	InputLength int       `json:"input_length" dynamodbav:"input_length" bson:"input_length"`
}

// LogFilter selects audit records. Empty fields match everything.
type LogFilter struct {
	Model     string    `json:"model,omitempty"`
	Type      ModelType `json:"type,omitempty"`
	Sentiment string    `json:"sentiment,omitempty"`
	Biased    *bool     `json:"biased,omitempty"`
}

func (f LogFilter) IsZero() bool {
	return f.Model == "" && f.Type == "" && f.Sentiment == "" && f.Biased == nil
}

func (f LogFilter) Matches(r AuditRecord) bool {
	if f.Model != "" && r.Model != f.Model {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Sentiment != "" && r.Sentiment != f.Sentiment {
		return false
	}
	if f.Biased != nil && r.Biased != *f.Biased {
		return false
	}
	return true
}
