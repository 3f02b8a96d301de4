package goposthog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"

	"github.com/sadewadee/source-orchestrator/tlmt"
)

type service struct {
	client     posthog.Client
	distinctID string
	base       posthog.Properties
}

// New creates a PostHog-backed telemetry sink
func New(apiKey, endpoint string) (tlmt.Telemetry, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}

	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}

	svc := service{
		client:     client,
		distinctID: installID(),
		base: posthog.NewProperties().
			Set("os", runtime.GOOS).
			Set("arch", runtime.GOARCH),
	}

	return &svc, nil
}

func (s *service) Send(_ context.Context, event tlmt.Event) error {
	props := posthog.NewProperties()
	for k, v := range event.Value {
		props.Set(k, v)
	}

	return s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      event.Name,
		Properties: props.Merge(s.base),
	})
}

func (s *service) Close() error {
	return s.client.Close()
}

// installID returns a stable anonymous identifier for this installation,
// created on first use
func installID() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return uuid.New().String()
	}

	path := filepath.Join(dir, "source-orchestrator", "install_id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		_ = os.WriteFile(path, []byte(id), 0o600)
	}

	return id
}
