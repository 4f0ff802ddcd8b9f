package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/linnemanlabs/go-core/log"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
)

// mtimeProbeInterval throttles how often Current stats the rules file.
const mtimeProbeInterval = 2 * time.Second

// Loader reads the rules file and serves immutable ruleset snapshots.
// A failed load keeps the previous snapshot in effect: stale-but-valid
// beats empty.
type Loader struct {
	path   string
	logger log.Logger

	current atomic.Pointer[Ruleset]

	mu        sync.Mutex // serializes reloads
	lastMod   time.Time
	lastProbe atomic.Int64

	// OnReload, when set, observes every reload attempt with outcome
	// "ok" or "error". Set before the loader is shared.
	OnReload func(outcome string)
}

// NewLoader creates a Loader serving the empty ruleset until the first
// successful Load.
func NewLoader(path string, logger log.Logger) *Loader {
	if logger == nil {
		logger = log.Nop()
	}
	l := &Loader{path: path, logger: logger}
	l.current.Store(Empty())
	return l
}

// Load re-reads and sanitizes the rules file, swapping in a new snapshot on
// success. Malformed input never crashes the process: a read or parse error
// is returned after retaining the previous snapshot, and invalid entries
// inside an otherwise well-formed file are dropped individually.
func (l *Loader) Load(ctx context.Context) error {
	err := l.load(ctx)
	if l.OnReload != nil {
		if err != nil {
			l.OnReload("error")
		} else {
			l.OnReload("ok")
		}
	}
	return err
}

func (l *Loader) load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("stat rules file: %w", err)
	}

	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}

	rs, dropped, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	for _, d := range dropped {
		l.logger.Warn(ctx, "dropped invalid rule entry", "entry", d)
	}

	l.current.Store(rs)
	l.lastMod = info.ModTime()
	l.logger.Info(ctx, "ruleset loaded",
		"escalation_rules", len(rs.Escalation),
		"auto_close_rules", len(rs.AutoClose),
		"classifiers", len(rs.Classifiers),
	)
	return nil
}

// Reload forces a reload. It is the same operation as Load; the separate
// name marks the admin-triggered path.
func (l *Loader) Reload(ctx context.Context) error {
	return l.Load(ctx)
}

// Current returns the last successfully loaded snapshot. It also probes the
// file's modification time (throttled) and reloads lazily when the backing
// source advanced.
func (l *Loader) Current(ctx context.Context) *Ruleset {
	l.maybeReload(ctx)
	return l.current.Load()
}

func (l *Loader) maybeReload(ctx context.Context) {
	now := time.Now().UnixNano()
	last := l.lastProbe.Load()
	if now-last < int64(mtimeProbeInterval) {
		return
	}
	if !l.lastProbe.CompareAndSwap(last, now) {
		return // another caller is probing
	}
	info, err := os.Stat(l.path)
	if err != nil {
		return
	}
	l.mu.Lock()
	stale := info.ModTime().After(l.lastMod)
	l.mu.Unlock()
	if !stale {
		return
	}
	if err := l.Load(ctx); err != nil {
		l.logger.Error(ctx, err, "lazy rules reload failed, keeping previous ruleset")
	}
}

// Watch reloads the ruleset whenever the backing file changes, until ctx is
// done. Watcher failures degrade to the lazy mtime probe; they never stop
// the service.
func (l *Loader) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Error(ctx, err, "rules watcher init failed, relying on mtime probes")
		return
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// registered on the file itself.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		l.logger.Error(ctx, err, "rules watcher add failed, relying on mtime probes")
		return
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != l.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if err := l.Load(ctx); err != nil {
				l.logger.Error(ctx, err, "rules reload failed, keeping previous ruleset")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn(ctx, "rules watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// legacy flat-map entry: sourceType -> {escalate_if_count, window_mins,
// escalate_to, auto_close_if}. Unknown keys are stripped by decoding into
// this allow-listed struct only.
type legacyRule struct {
	EscalateIfCount int    `json:"escalate_if_count"`
	WindowMins      int    `json:"window_mins"`
	EscalateTo      string `json:"escalate_to"`
	AutoCloseIf     string `json:"auto_close_if"`
}

// structured document shape.
type ruleFile struct {
	Rules      []classifierEntry          `json:"rules"`
	Escalation map[string]json.RawMessage `json:"escalation"`
	AutoClose  map[string]json.RawMessage `json:"auto_close"`
}

type classifierEntry struct {
	RuleID      string         `json:"ruleId"`
	Name        string         `json:"name"`
	EventTypes  []string       `json:"eventTypes"`
	Condition   Condition      `json:"condition"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
}

// Parse sanitizes a rules document of either supported shape into a
// Ruleset. dropped lists entries that were discarded as invalid.
func Parse(raw []byte) (*Ruleset, []string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, nil, err
	}

	_, hasRules := top["rules"]
	_, hasEscalation := top["escalation"]
	_, hasAutoClose := top["auto_close"]
	if hasRules || hasEscalation || hasAutoClose {
		return parseStructured(raw)
	}
	return parseLegacy(top)
}

func parseLegacy(top map[string]json.RawMessage) (*Ruleset, []string, error) {
	rs := Empty()
	var dropped []string
	for sourceType, rawCfg := range top {
		var cfg legacyRule
		if err := json.Unmarshal(rawCfg, &cfg); err != nil {
			dropped = append(dropped, sourceType)
			continue
		}
		if cfg.EscalateIfCount > 0 && cfg.WindowMins > 0 {
			rule := EscalationRule{Count: cfg.EscalateIfCount, WindowMinutes: cfg.WindowMins}
			if cfg.EscalateTo != "" {
				sev := alert.Severity(cfg.EscalateTo)
				if !alert.ValidSeverity(sev) {
					dropped = append(dropped, sourceType)
					continue
				}
				rule.EscalateTo = sev
			}
			rs.Escalation[sourceType] = rule
		} else if cfg.EscalateIfCount != 0 || cfg.WindowMins != 0 {
			// half-specified or negative count/window
			dropped = append(dropped, sourceType)
			continue
		}
		if cfg.AutoCloseIf != "" {
			rs.AutoClose[sourceType] = AutoCloseRule{Field: cfg.AutoCloseIf}
		}
	}
	return rs, dropped, nil
}

func parseStructured(raw []byte) (*Ruleset, []string, error) {
	var f ruleFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, nil, err
	}

	rs := Empty()
	var dropped []string

	for sourceType, rawCfg := range f.Escalation {
		var cfg legacyRule
		if err := json.Unmarshal(rawCfg, &cfg); err != nil {
			dropped = append(dropped, "escalation:"+sourceType)
			continue
		}
		if cfg.EscalateIfCount <= 0 || cfg.WindowMins <= 0 {
			dropped = append(dropped, "escalation:"+sourceType)
			continue
		}
		rule := EscalationRule{Count: cfg.EscalateIfCount, WindowMinutes: cfg.WindowMins}
		if cfg.EscalateTo != "" {
			sev := alert.Severity(cfg.EscalateTo)
			if !alert.ValidSeverity(sev) {
				dropped = append(dropped, "escalation:"+sourceType)
				continue
			}
			rule.EscalateTo = sev
		}
		rs.Escalation[sourceType] = rule
	}

	for sourceType, rawCfg := range f.AutoClose {
		field, ok := parseAutoClose(rawCfg)
		if !ok {
			dropped = append(dropped, "auto_close:"+sourceType)
			continue
		}
		rs.AutoClose[sourceType] = AutoCloseRule{Field: field}
	}

	for _, e := range f.Rules {
		sev := alert.Severity(e.Severity)
		if len(e.EventTypes) == 0 || !alert.ValidSeverity(sev) {
			dropped = append(dropped, "rule:"+e.RuleID)
			continue
		}
		rs.Classifiers = append(rs.Classifiers, Classifier{
			RuleID:      e.RuleID,
			Name:        e.Name,
			EventTypes:  e.EventTypes,
			Condition:   e.Condition,
			Severity:    sev,
			Description: e.Description,
		})
	}

	return rs, dropped, nil
}

// parseAutoClose accepts either a bare field name or {"field": "..."}.
func parseAutoClose(raw json.RawMessage) (string, bool) {
	var field string
	if err := json.Unmarshal(raw, &field); err == nil {
		return field, field != ""
	}
	var obj AutoCloseRule
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Field, obj.Field != ""
	}
	return "", false
}
