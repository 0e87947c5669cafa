package questionnaire

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseQuestionnaire decodes a FHIR Questionnaire from JSON.
func ParseQuestionnaire(data []byte) (*Questionnaire, error) {
	var q Questionnaire
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode questionnaire: %w", err)
	}
	if q.ResourceType == "" {
		q.ResourceType = "Questionnaire"
	}
	if q.ResourceType != "Questionnaire" {
		return nil, fmt.Errorf("expected resourceType Questionnaire, got %s", q.ResourceType)
	}
	return &q, nil
}

// ParseQuestionnaireResponse decodes a FHIR QuestionnaireResponse from JSON.
func ParseQuestionnaireResponse(data []byte) (*QuestionnaireResponse, error) {
	var qr QuestionnaireResponse
	if err := json.Unmarshal(data, &qr); err != nil {
		return nil, fmt.Errorf("decode questionnaire response: %w", err)
	}
	if qr.ResourceType == "" {
		qr.ResourceType = "QuestionnaireResponse"
	}
	if qr.ResourceType != "QuestionnaireResponse" {
		return nil, fmt.Errorf("expected resourceType QuestionnaireResponse, got %s", qr.ResourceType)
	}
	if qr.Status == "" {
		qr.Status = StatusInProgress
	}
	return &qr, nil
}

// LoadQuestionnaireFile reads a definition from disk. Files ending in .yaml or
// .yml use the same keys as the JSON form.
func LoadQuestionnaireFile(path string) (*Questionnaire, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return ParseQuestionnaire(data)
}

// LoadJSONObject reads a JSON or YAML file holding a single object, such as a
// population launch context.
func LoadJSONObject(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return obj, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
