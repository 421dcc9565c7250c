package ai

import "github.com/tidwall/gjson"

// Usage is the token accounting of one call
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// ExtractUsage reads a usage object in either snake_case or camelCase.
// Missing counts are zero and a missing total is input plus output.
func ExtractUsage(usage gjson.Result) Usage {
	u := Usage{
		InputTokens:  firstInt(usage, "prompt_tokens", "promptTokens"),
		OutputTokens: firstInt(usage, "completion_tokens", "completionTokens"),
	}

	total := firstField(usage, "total_tokens", "totalTokens")
	if total.Exists() && total.Type == gjson.Number {
		u.TotalTokens = nonNegative(int(total.Int()))
	} else {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// UsageFromBody extracts the usage object of a completion response body
func UsageFromBody(body []byte) Usage {
	return ExtractUsage(gjson.GetBytes(body, "usage"))
}

func firstField(r gjson.Result, names ...string) gjson.Result {
	for _, n := range names {
		if v := r.Get(n); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func firstInt(r gjson.Result, names ...string) int {
	v := firstField(r, names...)
	if v.Type != gjson.Number {
		return 0
	}
	return nonNegative(int(v.Int()))
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
