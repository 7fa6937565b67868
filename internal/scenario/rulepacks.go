package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"housesim/internal/domain"
)

func isPackFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// ParseRulePack decodes one pack document.
func ParseRulePack(data []byte) (domain.RulePack, error) {
	var pack domain.RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return domain.RulePack{}, fmt.Errorf("decode rule pack: %w", err)
	}
	if err := ValidateRulePacks([]domain.RulePack{pack}); err != nil {
		return domain.RulePack{}, err
	}
	return pack, nil
}

// LoadRulePackDir reads every *.yaml / *.yml file in dir as one pack, in
// file name order. Any bad file fails the whole load.
func LoadRulePackDir(dir string) ([]domain.RulePack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rule pack dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isPackFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	packs := make([]domain.RulePack, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		pack, err := ParseRulePack(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		packs = append(packs, pack)
	}
	if err := ValidateRulePacks(packs); err != nil {
		return nil, err
	}
	return packs, nil
}

// RuleWatcher reloads a rule pack directory whenever a pack file changes and
// hands the full set to apply. A reload that fails keeps the previous packs.
type RuleWatcher struct {
	dir      string
	apply    func([]domain.RulePack)
	logger   *slog.Logger
	debounce time.Duration
}

func NewRuleWatcher(dir string, apply func([]domain.RulePack), logger *slog.Logger) *RuleWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleWatcher{dir: dir, apply: apply, logger: logger, debounce: 200 * time.Millisecond}
}

// Run blocks until ctx is done. The directory is loaded once up front.
func (rw *RuleWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(rw.dir); err != nil {
		return fmt.Errorf("watch %s: %w", rw.dir, err)
	}
	rw.reload()

	timer := time.NewTimer(rw.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPackFile(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rw.logger.Debug("rule pack changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(rw.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			rw.logger.Warn("rule watcher error", "error", err)
		case <-timer.C:
			rw.reload()
		}
	}
}

func (rw *RuleWatcher) reload() {
	packs, err := LoadRulePackDir(rw.dir)
	if err != nil {
		rw.logger.Warn("rule pack reload failed, keeping previous packs", "dir", rw.dir, "error", err)
		return
	}
	rw.logger.Info("rule packs loaded", "dir", rw.dir, "count", len(packs))
	rw.apply(packs)
}
