package chrome

import (
	"encoding/json"
	"fmt"
)

func targetIDFromResult(raw json.RawMessage) (string, error) {
	var result struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode create-target result: %w", err)
	}
	if result.TargetID == "" {
		return "", fmt.Errorf("create-target result missing targetId")
	}
	return result.TargetID, nil
}

func evaluatedString(raw json.RawMessage) (string, error) {
	var result struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode evaluate result: %w", err)
	}
	return result.Result.Value, nil
}
