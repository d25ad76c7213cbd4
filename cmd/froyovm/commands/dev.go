package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/machine"
)

const defaultReloadDelay = 500 * time.Millisecond

func newDevCommand() *cobra.Command {
	var (
		entry     string
		stateRoot string
		delay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dev <module.wasm>",
		Short: "Re-invoke an actor every time its module changes",
		Long: `Invoke a WebAssembly actor, then watch the module file and invoke it
again whenever it is rebuilt.

Each successful invocation's state root becomes the starting state of the
next one, so state carries across rebuilds. Failed invocations leave the
state root unchanged. Press Ctrl-C to stop.`,
		Example: `  # Rebuild into actor.wasm from another terminal to re-run it
  froyovm dev actor.wasm --store state.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if entry == "" {
				entry = cfg.Machine.Entry
			}

			root := cid.Undef
			if stateRoot != "" {
				if root, err = cid.Decode(stateRoot); err != nil {
					return fmt.Errorf("invalid state root %q: %w", stateRoot, err)
				}
			}

			target, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			// Editors and build tools often replace the file, so the
			// directory is watched rather than the file itself.
			if err := watcher.Add(filepath.Dir(target)); err != nil {
				return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
			}

			mw := newModuleWatcher(target, delay, log.Logger)
			defer mw.Stop()
			go mw.processEvents(ctx, watcher.Events, watcher.Errors)

			dl := &devLoop{session: s, path: target, entry: entry, root: root}
			dl.reload(ctx, cmd)

			log.Info().Str("module", target).Msg("Watching module for changes")
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-mw.Changed():
					dl.reload(ctx, cmd)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&entry, "entry", "e", "", "exported function to invoke (default from config)")
	cmd.Flags().StringVar(&stateRoot, "state-root", "", "CID of the state to start from")
	cmd.Flags().DurationVar(&delay, "delay", defaultReloadDelay, "quiet period after a change before re-invoking")

	return cmd
}

// devLoop invokes successive builds of one module, threading the state root.
type devLoop struct {
	session *session
	path    string
	entry   string
	root    cid.Cid
	runs    int
}

func (d *devLoop) reload(ctx context.Context, cmd *cobra.Command) {
	d.runs++
	receipt, err := d.invoke(ctx)
	if err != nil {
		log.Error().Err(err).Int("run", d.runs).Msg("Invocation failed")
		return
	}
	if err := printReceipt(cmd.OutOrStdout(), receipt); err != nil {
		log.Error().Err(err).Msg("Failed to print receipt")
	}
	if receipt.Succeeded() && receipt.StateRoot.Defined() {
		d.root = receipt.StateRoot
	}
}

func (d *devLoop) invoke(ctx context.Context) (*machine.Receipt, error) {
	mod, err := d.session.compile(ctx, d.path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := mod.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to release module")
		}
	}()
	return d.session.machine.Invoke(ctx, machine.Invocation{Module: mod, Entry: d.entry, StateRoot: d.root})
}

// moduleWatcher turns file system events for one file into debounced change
// notifications.
type moduleWatcher struct {
	target  string
	delay   time.Duration
	logger  zerolog.Logger
	changed chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

func newModuleWatcher(target string, delay time.Duration, logger zerolog.Logger) *moduleWatcher {
	if delay <= 0 {
		delay = defaultReloadDelay
	}
	return &moduleWatcher{
		target:  filepath.Clean(target),
		delay:   delay,
		logger:  logger,
		changed: make(chan struct{}, 1),
	}
}

// Changed delivers one notification per burst of changes.
func (w *moduleWatcher) Changed() <-chan struct{} {
	return w.changed
}

// relevant reports whether event may have changed the module contents.
func (w *moduleWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.target {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *moduleWatcher) processEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Module changed")
			w.schedule()

		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *moduleWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		select {
		case w.changed <- struct{}{}:
		default:
		}
	})
}

// Stop cancels a pending notification.
func (w *moduleWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
}
