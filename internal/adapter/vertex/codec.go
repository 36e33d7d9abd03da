package vertex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// codec encodes one request payload shape and decodes its response shape.
// The set is closed: Vertex publishes two wire formats for text generation,
// selected by model family. Adding a family means adding a codec here, the
// retry loop never changes.
type codec interface {
	verb() string
	encode(req GenerateRequest) any
	decode(data []byte) (string, error)
}

// codecFor selects the codec by model name. gemini* models use the chat-style
// generateContent format; everything else (the PaLM text-bison family) uses
// the instance/parameter predict format.
func codecFor(model string, maxOutputTokens int) codec {
	if strings.HasPrefix(model, "gemini") {
		return geminiCodec{}
	}
	return palmCodec{maxOutputTokens: maxOutputTokens}
}

// geminiCodec speaks the generateContent format.
type geminiCodec struct{}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (geminiCodec) verb() string { return "generateContent" }

func (geminiCodec) encode(req GenerateRequest) any {
	return geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: geminiGenConfig{Temperature: req.Temperature},
	}
}

func (geminiCodec) decode(data []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal candidates: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("response carries no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}

// palmCodec speaks the predict format of the PaLM text models.
type palmCodec struct {
	maxOutputTokens int
}

type palmRequest struct {
	Instances  []palmInstance `json:"instances"`
	Parameters palmParameters `json:"parameters"`
}

type palmInstance struct {
	Prompt string `json:"prompt"`
}

type palmParameters struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type palmResponse struct {
	Predictions []struct {
		Content string `json:"content"`
	} `json:"predictions"`
}

func (palmCodec) verb() string { return "predict" }

func (p palmCodec) encode(req GenerateRequest) any {
	return palmRequest{
		Instances: []palmInstance{{Prompt: req.Prompt}},
		Parameters: palmParameters{
			Temperature:     req.Temperature,
			MaxOutputTokens: p.maxOutputTokens,
		},
	}
}

func (palmCodec) decode(data []byte) (string, error) {
	var resp palmResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal predictions: %w", err)
	}
	if len(resp.Predictions) == 0 {
		return "", errors.New("response carries no predictions")
	}
	return resp.Predictions[0].Content, nil
}
