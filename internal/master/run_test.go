package master

import (
	"context"
	"os"
	"strings"
	"testing"

	"ffarm/internal/testsupport"
)

func TestRunLeavesRunningMastersPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	startMaster(t, cfg, nil, newClock())

	pidPath := cfg.PIDPath()
	if err := os.WriteFile(pidPath, []byte("424242\n"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	second := *cfg
	err := Run(context.Background(), &second, Options{LogLevel: "error"})
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("Run error = %v, want lock conflict", err)
	}

	data, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("pid file removed by the losing master: %v", err)
	}
	if string(data) != "424242\n" {
		t.Fatalf("pid file overwritten: %q", data)
	}
}

func TestRunRequiresLocalWorkerFactory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Master.LocalWorker = true
	err := Run(context.Background(), cfg, Options{LogLevel: "error"})
	if err == nil || !strings.Contains(err.Error(), "local_worker") {
		t.Fatalf("Run error = %v, want missing local worker", err)
	}
	if _, statErr := os.Stat(cfg.PIDPath()); !os.IsNotExist(statErr) {
		t.Fatalf("pid file should not exist, stat err = %v", statErr)
	}
}
