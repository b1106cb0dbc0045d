package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/evanreyes/promptloom/internal/engine/runtime"
	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/evanreyes/promptloom/internal/shared/logger"
)

var runCmd = &cobra.Command{
	Use:   "run <descriptor.yaml>",
	Short: "Run a task descriptor locally",
	Long: `Run a TaskDescriptor YAML file against its target endpoint locally,
without connecting to a promptloom server. Prints real-time progress
and the final summary to the terminal.

Example:
  promptloom run examples/openai-chat.yaml
  promptloom run my-task.yaml --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	descriptor, err := loadDescriptor(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Running task: %s\n", descriptor.Name)
	fmt.Printf("   Target: %s %s%s\n", descriptor.HTTPMethod, descriptor.TargetBaseURL, descriptor.APIPath)
	fmt.Println()

	log := logger.New()
	if !verbose {
		log = zap.NewNop()
	}

	rt := runtime.New(runtime.Config{}, log)

	handle, err := rt.Start(context.Background(), descriptor, nil, stdoutRealtimeSink{})
	if err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nstopping task...")
			handle.Stop()
		case <-ctx.Done():
		}
	}()

	startTime := time.Now()
	summary, err := handle.Await(context.Background())
	duration := time.Since(startTime)

	fmt.Println()
	fmt.Println("────────────────────────────────────────────────")
	fmt.Println()

	if err != nil {
		fmt.Printf("task await failed after %v: %v\n", duration.Round(time.Millisecond), err)
		return err
	}

	fmt.Printf("task %s finished in %v\n", summary.State, duration.Round(time.Millisecond))
	if total, ok := summary.Stages[task.StageTotalTime]; ok {
		fmt.Printf("   requests: %d\n", total.RequestCount)
		fmt.Printf("   errors:   %d\n", total.FailureCount)
	}
	fmt.Println()

	return nil
}

func loadDescriptor(path string) (*task.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor file: %w", err)
	}

	var descriptor task.Descriptor
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor YAML: %w", err)
	}
	return &descriptor, nil
}

// stdoutRealtimeSink prints each RealtimePoint to the terminal for
// local `promptloom run` invocations.
type stdoutRealtimeSink struct{}

func (stdoutRealtimeSink) WriteRealtimePoint(ctx context.Context, taskID uuid.UUID, point task.RealtimePoint) error {
	fmt.Printf("   [t+%ds] users=%d rps=%.1f p95=%.0fms\n", point.TimestampS, point.CurrentUsers, point.CurrentRPS, point.P95ResponseTimeMs)
	return nil
}
