package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schemaSource constrains the decoded configuration. Durations are checked in
// milliseconds after YAML decoding.
const schemaSource = `
#Config: {
	capacity:                int & >=0 & <=64
	reconcile_delay_ms:      int & >=0
	settle_delay_ms:         int & >=0
	auto_retry_delay_ms:     int & >=0
	diagnostics_interval_ms: int & >=0 & <=60000

	log_level:    "" | "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic" | "disabled"
	log_format:   "" | "json" | "text"
	loki_enabled: bool
	loki_url:     string
	if loki_enabled {
		loki_url: =~"^https?://"
	}

	telemetry_provider: "" | "prometheus"

	simulation_widgets:    int & >=0 & <=256
	simulation_loss_ms:    int & >=0
	simulation_restore_ms: int & >=0
	simulation_remount_ms: int & >=0
	simulation_frame_ms:   int & >=0
}
`

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errNilConfig
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("config.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := ctx.Encode(schemaView(cfg))
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

func schemaView(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"capacity":                cfg.Capacity,
		"reconcile_delay_ms":      cfg.Timing.ReconcileDelay.Milliseconds(),
		"settle_delay_ms":         cfg.Timing.SettleDelay.Milliseconds(),
		"auto_retry_delay_ms":     cfg.Timing.AutoRetryDelay.Milliseconds(),
		"diagnostics_interval_ms": cfg.Timing.DiagnosticsInterval.Milliseconds(),
		"log_level":               strings.ToLower(strings.TrimSpace(cfg.Logging.Level)),
		"log_format":              strings.ToLower(strings.TrimSpace(cfg.Logging.Format)),
		"loki_enabled":            cfg.Logging.Loki.Enabled,
		"loki_url":                cfg.Logging.Loki.URL,
		"telemetry_provider":      strings.ToLower(strings.TrimSpace(cfg.Telemetry.Provider)),
		"simulation_widgets":      cfg.Simulation.Widgets,
		"simulation_loss_ms":      cfg.Simulation.LossInterval.Milliseconds(),
		"simulation_restore_ms":   cfg.Simulation.RestoreAfter.Milliseconds(),
		"simulation_remount_ms":   cfg.Simulation.RemountInterval.Milliseconds(),
		"simulation_frame_ms":     cfg.Simulation.FrameInterval.Milliseconds(),
	}
}
