package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/config"
	"github.com/openfroyo/froyovm/pkg/exitcode"
	"github.com/openfroyo/froyovm/pkg/machine"
	"github.com/openfroyo/froyovm/pkg/telemetry"
)

// receiptView is the JSON form of a receipt.
type receiptView struct {
	InvocationID string `json:"invocation_id"`
	ExitCode     uint32 `json:"exit_code"`
	ExitName     string `json:"exit_name"`
	Kind         string `json:"kind,omitempty"`
	Message      string `json:"message,omitempty"`
	StateRoot    string `json:"state_root,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	Blocks       int    `json:"blocks"`
}

func newReceiptView(r *machine.Receipt) receiptView {
	v := receiptView{
		InvocationID: r.InvocationID,
		ExitCode:     uint32(r.ExitCode),
		ExitName:     exitcode.Name(r.ExitCode),
		Kind:         r.Kind,
		Message:      r.Message,
		DurationMS:   r.Duration.Milliseconds(),
		Blocks:       r.Blocks,
	}
	if r.StateRoot.Defined() {
		v.StateRoot = r.StateRoot.String()
	}
	return v
}

func newRunCommand() *cobra.Command {
	var (
		entry     string
		storePath string
		stateRoot string
	)

	cmd := &cobra.Command{
		Use:   "run <module.wasm>",
		Short: "Invoke a WebAssembly actor",
		Long: `Compile a WebAssembly module and invoke one of its exports.

The module may import the kernel host modules:
  - ipld: open, create, read, stat and link blocks
  - self: get, set and delete actor state, and flush the state root
  - actor: resolve addresses to actor IDs
  - vm: abort with an exit code and message

The command prints the receipt and fails when the exit code is not Ok.`,
		Example: `  # Invoke the default entry point with in-memory state
  froyovm run actor.wasm

  # Persist state in SQLite and continue from a previous root
  froyovm run actor.wasm --store state.db --state-root bafy...

  # Call a specific export and print the receipt as JSON
  froyovm run actor.wasm --entry constructor --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if entry == "" {
				entry = cfg.Machine.Entry
			}
			if storePath != "" {
				cfg.Store = config.StoreConfig{Driver: config.DriverSQLite, Path: storePath}
			}

			root := cid.Undef
			if stateRoot != "" {
				if root, err = cid.Decode(stateRoot); err != nil {
					return fmt.Errorf("invalid state root %q: %w", stateRoot, err)
				}
			}

			receipt, err := invoke(cmd.Context(), cfg, args[0], entry, root)
			if err != nil {
				return err
			}

			if err := printReceipt(cmd.OutOrStdout(), receipt); err != nil {
				return err
			}
			if !receipt.Succeeded() {
				return fmt.Errorf("invocation exited with %s", exitcode.Name(receipt.ExitCode))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&entry, "entry", "e", "", "exported function to invoke (default from config)")
	cmd.Flags().StringVarP(&storePath, "store", "s", "", "SQLite blockstore path (overrides the config)")
	cmd.Flags().StringVar(&stateRoot, "state-root", "", "CID of the state to start from")

	return cmd
}

// session is a machine together with the telemetry and store it runs on.
type session struct {
	tel        *telemetry.Telemetry
	machine    *machine.Machine
	closeStore func() error
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s := &session{tel: tel, closeStore: func() error { return nil }}
	if err := tel.StartMetricsServer(); err != nil {
		s.Close()
		return nil, err
	}

	store, closeStore, err := cfg.Store.Open(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closeStore = closeStore

	mc, err := cfg.MachineConfig(ctx, tel)
	if err != nil {
		s.Close()
		return nil, err
	}
	if s.machine, err = machine.New(ctx, store, mc); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// compile reads and compiles the module at path.
func (s *session) compile(ctx context.Context, path string) (*machine.Module, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}
	return s.machine.Compile(ctx, filepath.Base(path), wasm)
}

func (s *session) Close() {
	ctx := context.Background()
	if s.machine != nil {
		if err := s.machine.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to close machine")
		}
	}
	if err := s.closeStore(); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}

func invoke(ctx context.Context, cfg *config.Config, path, entry string, root cid.Cid) (*machine.Receipt, error) {
	s, err := openSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	mod, err := s.compile(ctx, path)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("module", mod.Name()).
		Str("entry", entry).
		Str("store", cfg.Store.Driver).
		Msg("Invoking module")

	return s.machine.Invoke(ctx, machine.Invocation{Module: mod, Entry: entry, StateRoot: root})
}

func printReceipt(w io.Writer, r *machine.Receipt) error {
	v := newReceiptView(r)
	if jsonOutput {
		return writeJSON(w, v)
	}

	fmt.Fprintf(w, "invocation: %s\n", v.InvocationID)
	fmt.Fprintf(w, "exit code:  %d (%s)\n", v.ExitCode, v.ExitName)
	if v.Kind != "" {
		fmt.Fprintf(w, "fault:      %s: %s\n", v.Kind, v.Message)
	}
	if v.StateRoot != "" {
		fmt.Fprintf(w, "state root: %s\n", v.StateRoot)
	}
	fmt.Fprintf(w, "blocks:     %d\n", v.Blocks)
	fmt.Fprintf(w, "duration:   %s\n", r.Duration)
	return nil
}
