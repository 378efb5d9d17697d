package backend

// OpenAIRequest represents the request body for OpenAI-compatible APIs
type OpenAIRequest struct {
	Model    string          `json:"model"`
	Messages []OpenAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// OpenAIMessage represents a message in the conversation
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIStreamChunk represents one server-sent event of a streamed completion
type OpenAIStreamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *OpenAIError `json:"error,omitempty"`
}

// Content returns the text delta of the first choice
func (c *OpenAIStreamChunk) Content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// OpenAIErrorResponse is the body of a failed request
type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

// OpenAIError describes an API failure
type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
