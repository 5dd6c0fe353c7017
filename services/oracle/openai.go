// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/trendavatar/pkg/config"
	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/observability"
	"github.com/AleutianAI/trendavatar/services/platform"
)

// maxAssessMedia bounds how many candidate images ride along with an
// assessment prompt.
const maxAssessMedia = 4

// postCharLimit is the platform's hard text cap.
const postCharLimit = 280

// fallbackCaption is used when the model returns nothing usable.
const fallbackCaption = "Check out this trend!"

// chatCompleter and imageCreator are the slices of the OpenAI client
// this oracle uses, split out so tests can stub them.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type imageCreator interface {
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

// OpenAIOracle implements Oracle against the OpenAI API.
//
// All calls share one token-bucket limiter so a burst of pipeline runs
// queues here instead of tripping the upstream's own limits.
type OpenAIOracle struct {
	chat    chatCompleter
	images  imageCreator
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIOracle builds the production oracle from config.
func NewOpenAIOracle(cfg config.Oracle, logger *slog.Logger) (*OpenAIOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key not configured")
	}
	client := openai.NewClient(cfg.APIKey)
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	return &OpenAIOracle{
		chat:    client,
		images:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}, nil
}

// Assess implements Oracle.
func (o *OpenAIOracle) Assess(ctx context.Context, trend platform.Trend, media []platform.MediaCandidate) (SuitabilityAssessment, error) {
	prompt := fmt.Sprintf(
		"You are evaluating the trending topic %q (%d posts) for a playful avatar photo post. "+
			"Rate its suitability from 0 to 100, where 100 means highly visual, positive, and safe to join. "+
			"Start your answer with the number, then explain briefly.",
		trend.Name, trend.PostCount,
	)

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}
	for i, m := range media {
		if i >= maxAssessMedia {
			break
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: m.MediaURL, Detail: openai.ImageURLDetailLow},
		})
	}

	analysis, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, MultiContent: parts},
	})
	if err != nil {
		return SuitabilityAssessment{}, err
	}

	score := parseScore(analysis)
	o.logger.Debug("trend assessed", "trend", trend.Name, "score", score)
	return SuitabilityAssessment{TrendID: trend.ID, Score: score, Rationale: analysis}, nil
}

// Composite implements Oracle via image generation. The subject's
// avatar image is first described through a vision completion so the
// generation prompt reproduces the actual character instead of a
// generic one.
func (o *OpenAIOracle) Composite(ctx context.Context, req CompositeRequest) (CompositeResult, error) {
	avatar := "a friendly cartoon avatar"
	if req.AvatarURL != "" {
		desc, err := o.describeAvatar(ctx, req.AvatarURL)
		if err != nil {
			return CompositeResult{}, err
		}
		if desc != "" {
			avatar = desc
		}
	}

	if err := o.wait(ctx); err != nil {
		return CompositeResult{}, err
	}

	scene := req.AltText
	if scene == "" {
		scene = "a scene that captures the topic"
	}
	prompt := fmt.Sprintf(
		"A photorealistic image about the trending topic %q: %s. "+
			"Place this character naturally into the scene as if participating: %s",
		req.TrendName, scene, avatar,
	)

	start := time.Now()
	resp, err := o.images.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	observability.DefaultMetrics.RecordUpstream("oracle", time.Since(start))
	if err != nil {
		return CompositeResult{}, fmt.Errorf("image generation: %v: %w", err, faults.ErrUpstreamUnavailable)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return CompositeResult{}, fmt.Errorf("image generation returned no data: %w", faults.ErrInvalidResponse)
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return CompositeResult{}, fmt.Errorf("decoding generated image: %w", faults.ErrInvalidResponse)
	}
	return CompositeResult{Image: img, MIME: "image/png"}, nil
}

// describeAvatar turns the subject's profile image into a short visual
// description the generation endpoint can reproduce.
func (o *OpenAIOracle) describeAvatar(ctx context.Context, avatarURL string) (string, error) {
	desc, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: "Describe the character in this profile image in one sentence, " +
						"covering the visual details an illustrator would need to redraw it.",
				},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: avatarURL, Detail: openai.ImageURLDetailLow},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(desc), nil
}

// Caption implements Oracle.
func (o *OpenAIOracle) Caption(ctx context.Context, trendName string) (string, error) {
	text, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleUser,
			Content: fmt.Sprintf(
				"Write one short, upbeat social post caption about the trend %q. "+
					"Under 200 characters, no hashtags beyond the trend itself, no surrounding quotes.",
				trendName,
			),
		},
	})
	if err != nil {
		return "", err
	}
	caption := strings.Trim(strings.TrimSpace(text), `"`)
	if caption == "" {
		caption = fallbackCaption
	}
	return truncatePost(caption), nil
}

// StyledPost implements Oracle.
func (o *OpenAIOracle) StyledPost(ctx context.Context, trendName string, history []string) (string, error) {
	var sb strings.Builder
	for _, post := range history {
		sb.WriteString("- ")
		sb.WriteString(post)
		sb.WriteString("\n")
	}

	text, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleSystem,
			Content: "You imitate a specific author's social media voice. Study the example posts, " +
				"then write new posts indistinguishable in tone, vocabulary, and punctuation habits.",
		},
		{
			Role: openai.ChatMessageRoleUser,
			Content: fmt.Sprintf(
				"Example posts by the author:\n%s\nWrite one new post about %q in this author's voice. "+
					"Prefix the final post with the line \"EXAMPLE TWEET:\" or wrap it in double quotes.",
				sb.String(), trendName,
			),
		},
	})
	if err != nil {
		return "", err
	}

	post := extractStyledPost(text)
	if post == "" {
		return "", fmt.Errorf("no post found in model output: %w", faults.ErrInvalidResponse)
	}
	return truncatePost(post), nil
}

// complete runs one throttled chat completion and returns the first
// choice's text.
func (o *OpenAIOracle) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	if err := o.wait(ctx); err != nil {
		return "", err
	}
	start := time.Now()
	resp, err := o.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	observability.DefaultMetrics.RecordUpstream("oracle", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("chat completion: %v: %w", err, faults.ErrUpstreamUnavailable)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices: %w", faults.ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIOracle) wait(ctx context.Context) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for oracle slot: %w", err)
	}
	return nil
}

// =============================================================================
// Output parsing
// =============================================================================

var (
	firstIntRe   = regexp.MustCompile(`\d+`)
	quotedPostRe = regexp.MustCompile(`"([^"]{2,})"`)
)

// parseScore pulls the first integer out of free text and clamps it to
// 0-100. Unparseable text scores zero.
func parseScore(text string) int {
	match := firstIntRe.FindString(text)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// extractStyledPost digs the actual post out of a chatty completion:
// an "EXAMPLE TWEET:" marker wins, then the longest quoted span, then
// the whole trimmed text.
func extractStyledPost(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		if strings.HasPrefix(upper, "EXAMPLE TWEET:") {
			post := strings.TrimSpace(trimmed[len("EXAMPLE TWEET:"):])
			post = strings.Trim(post, `"`)
			if post != "" {
				return post
			}
		}
	}

	var best string
	for _, m := range quotedPostRe.FindAllStringSubmatch(text, -1) {
		if len(m[1]) > len(best) {
			best = m[1]
		}
	}
	if best != "" {
		return strings.TrimSpace(best)
	}
	return strings.TrimSpace(text)
}

// truncatePost enforces the platform character cap, rune-aware.
func truncatePost(text string) string {
	runes := []rune(text)
	if len(runes) <= postCharLimit {
		return text
	}
	return string(runes[:postCharLimit-1]) + "…"
}
