package imaging

import (
	"strings"
	"testing"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
)

func TestRescuedFractionSumsRescuedBlocks(t *testing.T) {
	mapData := "# mapfile\n" +
		"0x00000000 0x00000000\n" +
		"0x00000000 0x00000064 +\n" +
		"0x00000064 0x00000006 -\n"
	frac, err := MapReader{}.RescuedFraction(strings.NewReader(mapData))
	if err != nil {
		t.Fatalf("RescuedFraction: %v", err)
	}
	want := float64(0x64) / float64(0x64+0x6)
	if frac != want {
		t.Fatalf("got %v want %v", frac, want)
	}
}

func TestClassifyAppliesConfiguredThresholds(t *testing.T) {
	th := config.ImagingHealthThresholds{OKMinFraction: 0.9999, IncompleteMinFraction: 0.90}
	if got := Classify(1.0, th); got != catalog.HealthOK {
		t.Fatalf("expected ok at 100%%, got %v", got)
	}
	if got := Classify(0.95, th); got != catalog.HealthIncomplete {
		t.Fatalf("expected incomplete at 95%%, got %v", got)
	}
	if got := Classify(0.5, th); got != catalog.HealthFailed {
		t.Fatalf("expected failed at 50%%, got %v", got)
	}
}

func TestRefuseProcessingRequiresForceForFailedHealth(t *testing.T) {
	if !RefuseProcessing(catalog.HealthFailed, false) {
		t.Fatalf("expected failed health to be refused without force")
	}
	if RefuseProcessing(catalog.HealthFailed, true) {
		t.Fatalf("expected forced failed health to proceed")
	}
	if RefuseProcessing(catalog.HealthIncomplete, false) {
		t.Fatalf("expected incomplete health to proceed without force")
	}
}
