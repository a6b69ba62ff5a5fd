package health

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// persistedState is the on-disk shape written to cfg.StatePath. Only the
// state machine's current state survives a restart — the rolling trade
// window itself is not persisted, so a freshly restarted process rebuilds
// its window from newly observed trades (the restored state is kept
// unchanged until MinSampleSize trades accumulate again).
type persistedState struct {
	Strategies map[string]string `json:"strategies"`
}

// Save atomically writes the current per-strategy states to cfg.StatePath
// via a temp-file-then-rename, so a crash mid-write never leaves a
// truncated or partially-written state file behind.
func (c *Checker) Save() error {
	c.mu.Lock()
	out := make(map[string]string, len(c.strategies))
	for id, sh := range c.strategies {
		out[id] = string(sh.state)
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(persistedState{Strategies: out}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.cfg.StatePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".health-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.cfg.StatePath)
}

// Load restores persisted per-strategy states from cfg.StatePath. A
// missing file is not an error — every strategy simply starts ENABLED.
func (c *Checker) Load() error {
	data, err := os.ReadFile(c.cfg.StatePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn().Err(err).Str("path", c.cfg.StatePath).Msg("health state file unreadable, starting fresh")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range state.Strategies {
		sh := c.entry(id)
		sh.state = State(s)
	}
	return nil
}
