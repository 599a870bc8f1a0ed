package config

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"telegram-rank-bot/internal/model"
)

// Taxonomy is the hot-reloadable rank taxonomy provider. Current()
// always returns a consistent, validated set: a reload that fails to
// parse or validate keeps the last-good set in place. Consumers never
// see a partially applied or invalid taxonomy.
type Taxonomy struct {
	v       *viper.Viper
	current atomic.Pointer[[]model.RankDefinition]
}

// LoadTaxonomy reads and validates the rank taxonomy from the given
// YAML file. The initial load must succeed; later reloads fall back.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	t := &Taxonomy{v: v}
	ranks, err := t.read()
	if err != nil {
		return nil, fmt.Errorf("failed to load rank taxonomy: %w", err)
	}
	t.current.Store(&ranks)
	return t, nil
}

// Current returns the active rank set, ordered as configured.
// The returned slice must not be mutated.
func (t *Taxonomy) Current() []model.RankDefinition {
	return *t.current.Load()
}

// RoleTokens returns the live set of recognized rank-tier role tokens.
func (t *Taxonomy) RoleTokens() map[string]struct{} {
	ranks := t.Current()
	tokens := make(map[string]struct{}, len(ranks))
	for _, r := range ranks {
		tokens[r.Token] = struct{}{}
	}
	return tokens
}

// Rank returns the definition for a token, if it is in the live set.
func (t *Taxonomy) Rank(token string) (model.RankDefinition, bool) {
	for _, r := range t.Current() {
		if r.Token == token {
			return r, true
		}
	}
	return model.RankDefinition{}, false
}

// Reload re-reads the taxonomy file and swaps the active set
// atomically. On parse or validation failure the last-good set stays
// active and the error is returned.
func (t *Taxonomy) Reload() error {
	ranks, err := t.read()
	if err != nil {
		return fmt.Errorf("rank taxonomy reload failed, keeping previous set: %w", err)
	}
	t.current.Store(&ranks)
	return nil
}

// Watch reloads the taxonomy whenever the file changes on disk.
// Reload failures are logged and never propagate to consumers.
func (t *Taxonomy) Watch() {
	t.v.OnConfigChange(func(e fsnotify.Event) {
		if err := t.Reload(); err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Rank taxonomy reload failed")
			return
		}
		log.Info().
			Str("file", e.Name).
			Int("ranks", len(t.Current())).
			Msg("Rank taxonomy reloaded")
	})
	t.v.WatchConfig()
}

func (t *Taxonomy) read() ([]model.RankDefinition, error) {
	if err := t.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read ranks file: %w", err)
	}

	var raw struct {
		Ranks []model.RankDefinition `mapstructure:"ranks"`
	}
	if err := t.v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ranks file: %w", err)
	}

	if err := validateRanks(raw.Ranks); err != nil {
		return nil, err
	}
	return raw.Ranks, nil
}

// validateRanks rejects empty, duplicated, or inverted-range entries.
func validateRanks(ranks []model.RankDefinition) error {
	if len(ranks) == 0 {
		return fmt.Errorf("rank taxonomy is empty")
	}

	seen := make(map[string]struct{}, len(ranks))
	for i, r := range ranks {
		if r.Token == "" {
			return fmt.Errorf("rank %d: token is required", i)
		}
		if r.DisplayName == "" {
			return fmt.Errorf("rank %q: display_name is required", r.Token)
		}
		if r.LevelMin > r.LevelMax {
			return fmt.Errorf("rank %q: level_min %d exceeds level_max %d", r.Token, r.LevelMin, r.LevelMax)
		}
		if _, dup := seen[r.Token]; dup {
			return fmt.Errorf("rank %q: duplicate token", r.Token)
		}
		seen[r.Token] = struct{}{}
	}
	return nil
}
