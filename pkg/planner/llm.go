package planner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// LLM talks to an OpenAI-compatible /chat/completions endpoint.
type LLM struct {
	Model       string
	Temperature float64
	client      *openai.Client
}

// NewLLM returns a client with a request timeout. baseURL includes the API
// version prefix, e.g. https://api.openai.com/v1.
func NewLLM(baseURL, model, apiKey string, temperature float64, timeout time.Duration) *LLM {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &LLM{
		Model:       model,
		Temperature: temperature,
		client:      openai.NewClientWithConfig(cfg),
	}
}

func (l *LLM) Name() string { return "llm:" + l.Model }

func (l *LLM) complete(ctx context.Context, system, user string) (Result, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: float32(l.Temperature),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Result{}, fmt.Errorf("chat completion: status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Result{}, fmt.Errorf("chat completion: empty response")
	}
	model := resp.Model
	if model == "" {
		model = l.Model
	}
	return Result{
		Content:    strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:      model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

const directiveHelp = `When you intend to communicate, add one line per message using exactly:
Email at HH:MM to <email or name> [cc <list>] [bcc <list>]: <subject> | <body>
Reply at HH:MM to [<email id>] [cc <list>]: <subject> | <body>
Chat at HH:MM with <handle>: <message>
Only address people on the team list.`

func (l *LLM) GenerateProjectPlan(ctx context.Context, req Request) (Result, error) {
	return l.complete(ctx,
		"You are a seasoned project manager. Produce a concise week-by-week project plan.",
		fmt.Sprintf("Project: %s\nSummary: %s\nDuration: %d week(s)\nTeam:\n%s",
			req.ProjectName, req.ProjectSummary, req.DurationWeeks, describeTeam(req.Team)))
}

func (l *LLM) GenerateDailyPlan(ctx context.Context, req Request) (Result, error) {
	return l.complete(ctx, personaSystem(req),
		fmt.Sprintf("It is day %d. Project plan:\n%s\n\nWrite your plan for today.", req.DayIndex+1, req.ProjectPlan))
}

func (l *LLM) GenerateHourlyPlan(ctx context.Context, req Request) (Result, error) {
	return l.complete(ctx, personaSystem(req)+"\n\n"+directiveHelp,
		fmt.Sprintf("Current time: %s\nToday's plan:\n%s\n\nRecent context:\n%s\n\nTeam:\n%s\n\nWrite your plan for the next hour.",
			req.SimTime, req.DailyPlan, bullets(req.Context), describeTeam(req.Team)))
}

func (l *LLM) GenerateHourlySummary(ctx context.Context, req Request) (Result, error) {
	return l.complete(ctx, personaSystem(req),
		fmt.Sprintf("Summarise hour %d from these plan updates:\n%s", req.HourIndex, bullets(req.HourlyPlans)))
}

func (l *LLM) GenerateDailyReport(ctx context.Context, req Request) (Result, error) {
	return l.complete(ctx, personaSystem(req),
		fmt.Sprintf("Write the end-of-day report for day %d.\nPlan:\n%s\n\nHourly summaries:\n%s",
			req.DayIndex+1, req.DailyPlan, bullets(req.HourlySummaries)))
}

func (l *LLM) GenerateSimulationReport(ctx context.Context, req Request) (Result, error) {
	return l.complete(ctx,
		"You are reviewing a completed team simulation. Summarise outcomes, risks and highlights.",
		fmt.Sprintf("Total ticks: %d\nProject plan:\n%s\n\nDaily reports:\n%s\n\nTeam:\n%s",
			req.TotalTicks, req.ProjectPlan, bullets(req.DailyReports), describeTeam(req.Team)))
}

func personaSystem(req Request) string {
	if req.Persona == nil {
		return "You are a member of a small software team."
	}
	p := req.Persona
	return fmt.Sprintf("You are %s, %s. Email %s, chat handle %s. Work hours %s.",
		p.Name, orDefault(p.Role, "a team member"), p.EmailAddress, p.ChatHandle, orDefault(p.WorkHours, "flexible"))
}

func describeTeam(team []*model.Persona) string {
	var lines []string
	for _, p := range team {
		lines = append(lines, fmt.Sprintf("%s (%s) email=%s chat=@%s", p.Name, p.Role, p.EmailAddress, p.ChatHandle))
	}
	return bullets(lines)
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	return "- " + strings.Join(items, "\n- ")
}

var _ Planner = (*LLM)(nil)
