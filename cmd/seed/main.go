package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/evanreyes/promptloom/internal/shared/config"
	"github.com/evanreyes/promptloom/internal/shared/database"
	"github.com/evanreyes/promptloom/internal/storage/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to auto-migrate database: %v", err)
	}

	log.Println("Seeding database...")

	if err := db.Exec("TRUNCATE TABLE schedule_runs, schedules, tasks RESTART IDENTITY CASCADE").Error; err != nil {
		log.Fatalf("Failed to clear existing data: %v", err)
	}

	seedTasks(db)
	seedSchedules(db)

	log.Println("Seeding complete.")
}

func seedTasks(db *gorm.DB) {
	descriptors := []task.Descriptor{
		openAIChatDescriptor(),
		claudeChatDescriptor(),
		embeddingsDescriptor(),
	}

	states := []models.TaskState{models.TaskStateStopped, models.TaskStateStopped, models.TaskStateFailed}

	for i, d := range descriptors {
		d.TaskID = uuid.New()
		descriptorBytes, err := json.Marshal(d)
		if err != nil {
			log.Fatalf("Failed to marshal descriptor: %v", err)
		}

		startedAt := time.Now().Add(-time.Duration(i+1) * time.Hour)
		finishedAt := startedAt.Add(5 * time.Minute)

		row := &models.Task{
			ID:             d.TaskID,
			Name:           d.Name,
			DescriptorJSON: string(descriptorBytes),
			State:          states[i],
			StartedAt:      &startedAt,
			FinishedAt:     &finishedAt,
		}
		if states[i] == models.TaskStateFailed {
			row.Diagnostic = "warm-up probe: dial tcp: lookup failed"
		} else {
			summary := task.Summary{
				TaskID: d.TaskID,
				State:  task.StateStopped,
				Stages: map[task.StageName]task.StageSummary{
					task.StageTotalTime: {
						TaskID:          d.TaskID,
						MetricType:      string(task.StageTotalTime),
						RequestCount:    1200,
						FailureCount:    3,
						AvgResponseTime: 842.5,
						MinResponseTime: 110,
						MaxResponseTime: 3100,
						Percentile50:    780,
						Percentile90:    1450,
						Percentile95:    1900,
						RPS:             19.8,
					},
				},
				Tokens: task.TokenMetrics{
					TaskID:        d.TaskID,
					TotalTPS:      412.3,
					CompletionTPS: 288.1,
				},
				StartedAt:  startedAt,
				FinishedAt: finishedAt,
			}
			summaryBytes, err := json.Marshal(summary)
			if err != nil {
				log.Fatalf("Failed to marshal summary: %v", err)
			}
			row.SummaryJSON = string(summaryBytes)
		}

		if err := db.Create(row).Error; err != nil {
			log.Fatalf("Failed to seed task %q: %v", d.Name, err)
		}
	}

	log.Printf("Seeded %d tasks", len(descriptors))
}

func seedSchedules(db *gorm.DB) {
	d := openAIChatDescriptor()
	d.TaskID = uuid.New()
	descriptorBytes, err := json.Marshal(d)
	if err != nil {
		log.Fatalf("Failed to marshal descriptor: %v", err)
	}

	sched := &models.Schedule{
		ID:              uuid.New(),
		Name:            "nightly-openai-chat-smoke",
		Description:     "Short smoke load test against the chat completions endpoint, every night at 02:00.",
		DescriptorJSON:  string(descriptorBytes),
		CronExpr:        "0 2 * * *",
		Timezone:        "UTC",
		Status:          models.ScheduleStatusActive,
		NotifyOnFailure: true,
		NotifyEmails:    []string{"oncall@promptloom.example"},
		MaxRetries:      1,
		RetryDelay:      "1m",
		AllowOverlap:    false,
		Tags:            []string{"smoke", "openai"},
	}

	if err := db.Create(sched).Error; err != nil {
		log.Fatalf("Failed to seed schedule: %v", err)
	}

	log.Println("Seeded 1 schedule")
}

func openAIChatDescriptor() task.Descriptor {
	return task.Descriptor{
		Name:            "openai-chat-smoke",
		APIKind:         task.APIKindOpenAIChat,
		TargetBaseURL:   "https://api.openai.example.com",
		APIPath:         "/v1/chat/completions",
		HTTPMethod:      "POST",
		RequestTemplate: `{"model":"gpt-4o-mini","stream":true,"messages":[{"role":"user","content":"{{.Prompt}}"}]}`,
		Headers: []task.HeaderEntry{
			{Key: "Authorization", Value: "Bearer ${OPENAI_API_KEY}"},
			{Key: "Content-Type", Value: "application/json"},
		},
		StreamMode: true,
		FieldMap: task.FieldMap{
			PromptPath:           "messages.0.content",
			ContentPath:          "choices.0.delta.content",
			PromptTokensPath:     "usage.prompt_tokens",
			CompletionTokensPath: "usage.completion_tokens",
			TotalTokensPath:      "usage.total_tokens",
		},
		Dataset: task.DatasetDefaultText,
		LoadProfile: task.LoadProfile{
			Mode:      task.LoadModeFixed,
			Users:     20,
			SpawnPerS: 5,
			DurationS: 120,
		},
	}
}

func claudeChatDescriptor() task.Descriptor {
	return task.Descriptor{
		Name:            "claude-chat-ramp",
		APIKind:         task.APIKindClaudeChat,
		TargetBaseURL:   "https://api.anthropic.example.com",
		APIPath:         "/v1/messages",
		HTTPMethod:      "POST",
		RequestTemplate: `{"model":"claude-sonnet","stream":true,"messages":[{"role":"user","content":"{{.Prompt}}"}]}`,
		Headers: []task.HeaderEntry{
			{Key: "x-api-key", Value: "${ANTHROPIC_API_KEY}"},
			{Key: "Content-Type", Value: "application/json"},
		},
		StreamMode: true,
		FieldMap: task.FieldMap{
			PromptPath:           "messages.0.content",
			ContentPath:          "delta.text",
			PromptTokensPath:     "usage.input_tokens",
			CompletionTokensPath: "usage.output_tokens",
		},
		Dataset: task.DatasetDefaultText,
		LoadProfile: task.LoadProfile{
			Mode:             task.LoadModeStepped,
			StartUsers:       10,
			StepIncrement:    10,
			StepDurationS:    30,
			SustainDurationS: 60,
			MaxUsers:         50,
		},
	}
}

func embeddingsDescriptor() task.Descriptor {
	return task.Descriptor{
		Name:            "embeddings-unreachable",
		APIKind:         task.APIKindEmbeddings,
		TargetBaseURL:   "https://embeddings.invalid.example",
		APIPath:         "/v1/embeddings",
		HTTPMethod:      "POST",
		RequestTemplate: `{"model":"text-embedding-3-small","input":"{{.Prompt}}"}`,
		Headers: []task.HeaderEntry{
			{Key: "Authorization", Value: "Bearer ${EMBEDDINGS_API_KEY}"},
		},
		StreamMode: false,
		FieldMap: task.FieldMap{
			PromptPath:  "input",
			ContentPath: "data.0.embedding",
		},
		Dataset: task.DatasetDefaultText,
		LoadProfile: task.LoadProfile{
			Mode:      task.LoadModeFixed,
			Users:     5,
			SpawnPerS: 5,
			DurationS: 30,
		},
	}
}
