// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// sseEvent is one data line of an OpenAI chat completion stream.
type sseEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ChatStream streams server-sent events from /chat/completions. Usage
// counters arrive on the final usage-only event enabled by
// stream_options.include_usage; the done marker carries them.
func (p *openaiProvider) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) error {
	resp, err := p.postChat(ctx, p.chatPayload(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var promptTokens, outputTokens int
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return fn(StreamChunk{
				Done:         true,
				PromptTokens: promptTokens,
				OutputTokens: outputTokens,
			})
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		if ev.Usage != nil {
			promptTokens = ev.Usage.PromptTokens
			outputTokens = ev.Usage.CompletionTokens
		}
		if len(ev.Choices) > 0 && ev.Choices[0].Delta.Content != "" {
			if err := fn(StreamChunk{Content: ev.Choices[0].Delta.Content}); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	return fmt.Errorf("openai stream ended without [DONE] marker")
}
