package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/vm-wylbur/ntt/internal/catalog"
)

func TestCurrentStageArchived(t *testing.T) {
	o := &Orchestrator{}
	stage, err := o.CurrentStage(context.Background(), catalog.Medium{}, true, true)
	if err != nil {
		t.Fatalf("CurrentStage: %v", err)
	}
	if stage != StageArchived {
		t.Fatalf("expected archived, got %v", stage)
	}
}

func TestCurrentStageCopied(t *testing.T) {
	o := &Orchestrator{}
	now := time.Now()
	medium := catalog.Medium{CopyDone: &now}
	stage, err := o.CurrentStage(context.Background(), medium, true, false)
	if err != nil {
		t.Fatalf("CurrentStage: %v", err)
	}
	if stage != StageCopied {
		t.Fatalf("expected copied, got %v", stage)
	}
}

func TestCurrentStageMountedBeforeEnumeration(t *testing.T) {
	o := &Orchestrator{}
	stage, err := o.CurrentStage(context.Background(), catalog.Medium{}, true, false)
	if err != nil {
		t.Fatalf("CurrentStage: %v", err)
	}
	if stage != StageMounted {
		t.Fatalf("expected mounted, got %v", stage)
	}
}

func TestCurrentStageImagedWhenNotYetMounted(t *testing.T) {
	o := &Orchestrator{}
	stage, err := o.CurrentStage(context.Background(), catalog.Medium{}, false, false)
	if err != nil {
		t.Fatalf("CurrentStage: %v", err)
	}
	if stage != StageImaged {
		t.Fatalf("expected imaged, got %v", stage)
	}
}
