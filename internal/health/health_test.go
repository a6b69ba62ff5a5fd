package health

import (
	"os"
	"path/filepath"
	"testing"

	"perpengine/internal/domain"
)

func testHealthConfig(statePath string) Config {
	return Config{
		WindowSize: 10, MinSampleSize: 3, MinEVNegativeTrades: 3,
		MinEV: domain.FromFloatPrice(0), MaxConsecutiveLosses: 3,
		AutoEnable: false, StatePath: statePath,
	}
}

func winTrade(pnl float64) domain.ClosedTrade {
	return domain.ClosedTrade{NetPnl: domain.FromFloatPrice(pnl)}
}

func TestNewStrategyStartsEnabled(t *testing.T) {
	c := NewChecker(testHealthConfig(""))
	if !c.IsStrategyEnabled("s1") {
		t.Fatal("expected a new strategy to start ENABLED")
	}
	if c.State("s1") != StateEnabled {
		t.Fatalf("expected StateEnabled, got %s", c.State("s1"))
	}
}

func TestDisabledAfterConsecutiveLosses(t *testing.T) {
	c := NewChecker(testHealthConfig(""))
	for i := 0; i < 3; i++ {
		c.RecordTrade("s1", winTrade(-10))
	}
	if c.State("s1") != StateDisabled {
		t.Fatalf("expected StateDisabled after 3 consecutive losses, got %s", c.State("s1"))
	}
	if c.IsStrategyEnabled("s1") {
		t.Error("expected IsStrategyEnabled to be false once DISABLED")
	}
}

func TestDisabledDoesNotAutoEnableWithoutFlag(t *testing.T) {
	c := NewChecker(testHealthConfig(""))
	for i := 0; i < 3; i++ {
		c.RecordTrade("s1", winTrade(-10))
	}
	c.RecordTrade("s1", winTrade(100))
	if c.State("s1") != StateDisabled {
		t.Fatalf("expected strategy to remain DISABLED without AutoEnable, got %s", c.State("s1"))
	}
}

func TestEnableStrategyManuallyClearsDisabled(t *testing.T) {
	c := NewChecker(testHealthConfig(""))
	for i := 0; i < 3; i++ {
		c.RecordTrade("s1", winTrade(-10))
	}
	c.EnableStrategy("s1")
	if c.State("s1") != StateEnabled {
		t.Fatalf("expected manual EnableStrategy to restore ENABLED, got %s", c.State("s1"))
	}
}

func TestDegradedOnNegativeEV(t *testing.T) {
	c := NewChecker(testHealthConfig(""))
	c.RecordTrade("s1", winTrade(-5))
	c.RecordTrade("s1", winTrade(-5))
	c.RecordTrade("s1", winTrade(1))
	if c.State("s1") != StateDegraded {
		t.Fatalf("expected StateDegraded on negative EV sample, got %s", c.State("s1"))
	}
	if !c.IsStrategyEnabled("s1") {
		t.Error("DEGRADED strategies should still be allowed to trade")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health-state.json")
	c1 := NewChecker(testHealthConfig(path))
	for i := 0; i < 3; i++ {
		c1.RecordTrade("s1", winTrade(-10))
	}
	if err := c1.Save(); err != nil {
		t.Fatalf("unexpected Save error: %v", err)
	}

	c2 := NewChecker(testHealthConfig(path))
	if err := c2.Load(); err != nil {
		t.Fatalf("unexpected Load error: %v", err)
	}
	if c2.State("s1") != StateDisabled {
		t.Fatalf("expected restored state DISABLED, got %s", c2.State("s1"))
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	c := NewChecker(testHealthConfig(filepath.Join(t.TempDir(), "does-not-exist.json")))
	if err := c.Load(); err != nil {
		t.Fatalf("expected no error loading a missing state file, got %v", err)
	}
	if c.State("s1") != StateEnabled {
		t.Fatal("expected default ENABLED state when no file exists")
	}
}

func TestLoadCorruptFileIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewChecker(testHealthConfig(path))
	if err := c.Load(); err != nil {
		t.Fatalf("expected corrupt state file to be tolerated, got %v", err)
	}
}
