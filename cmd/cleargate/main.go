package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/cleargate-io/cleargate/pkg/audit"
	"github.com/cleargate-io/cleargate/pkg/autonomy"
	"github.com/cleargate-io/cleargate/pkg/config"
	"github.com/cleargate-io/cleargate/pkg/engine"
	"github.com/cleargate-io/cleargate/pkg/identity"
	"github.com/cleargate-io/cleargate/pkg/qc"
	"github.com/cleargate-io/cleargate/pkg/release"
	"github.com/cleargate-io/cleargate/pkg/store"
	"github.com/cleargate-io/cleargate/pkg/toolpolicy"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, factored for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "selfcheck":
		return runSelfCheck(stdout, stderr)
	case "migrate":
		return runMigrate(stdout, stderr)
	case "classify":
		return runClassify(args[2:], stdout, stderr)
	case "profiles":
		return runProfiles(stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: cleargate <selfcheck|migrate|classify|profiles>")
}

// runMigrate opens the configured store, which creates or upgrades the
// schema as a side effect.
func runMigrate(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "config load failed:", err)
		return 1
	}

	if cfg.Driver == "postgres" {
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, "postgres migration failed:", err)
			return 1
		}
		defer func() { _ = pg.Close() }()
		_, _ = fmt.Fprintln(stdout, "postgres schema ready")
		return 0
	}

	s, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "sqlite migration failed:", err)
		return 1
	}
	defer func() { _ = s.Close() }()
	_, _ = fmt.Fprintf(stdout, "sqlite schema ready at %s\n", cfg.DatabasePath)
	return 0
}

// runSelfCheck assembles a full engine against a throwaway store and drives
// one complete governance cycle through it: QC submission, Guardian pass,
// Governor authorization, execution, and audit chain verification.
func runSelfCheck(stdout, stderr io.Writer) int {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	otel.SetTracerProvider(sdktrace.NewTracerProvider())

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		return 1
	}

	directory := identity.NewStaticDirectory()
	for _, actor := range []identity.Actor{
		{ID: "selfcheck-governor", Role: identity.RoleGovernor},
		{ID: "selfcheck-guardian", Role: identity.RoleGuardian},
		{ID: "selfcheck-agent", Role: identity.RoleEngineAgent, ToolGroups: []string{"case_management"}},
	} {
		if err := directory.Register(actor); err != nil {
			logger.Error("actor registration failed", "error", err)
			return 1
		}
	}

	mem := store.NewMemory()
	mem.RegisterSubject("selfcheck-ws", "in_progress")
	trail := audit.NewChainedTrail()

	eng, err := engine.New(engine.Deps{
		QCRepo:      mem,
		Subjects:    mem,
		Directives:  mem,
		ReleaseRepo: mem,
		Templates:   mem,
		Directory:   directory,
		Tools:       toolpolicy.NewRegistry(),
		Trail:       trail,
		AuditFailure: func(event audit.Event, err error) {
			logger.Warn("audit write dropped", "action", event.Action, "error", err)
		},
		GuardianPassTTL: cfg.GuardianPassTTL,
	})
	if err != nil {
		logger.Error("engine assembly failed", "error", err)
		return 1
	}

	review, err := eng.SubmitForQC(ctx, "selfcheck-ws", "selfcheck-agent")
	if err != nil {
		logger.Error("selfcheck: submit failed", "error", err)
		return 1
	}
	if _, err := eng.TransitionQC(ctx, review.ID, qc.StateInReview, "selfcheck-guardian", ""); err != nil {
		logger.Error("selfcheck: in_review failed", "error", err)
		return 1
	}
	if _, err := eng.TransitionQC(ctx, review.ID, qc.StatePass, "selfcheck-guardian", "selfcheck pass"); err != nil {
		logger.Error("selfcheck: pass failed", "error", err)
		return 1
	}

	request, err := eng.RequestReleaseForReview(ctx, review.ID, "selfcheck-agent", "selfcheck", "selfcheck-evidence")
	if err != nil {
		logger.Error("selfcheck: release request failed", "error", err)
		return 1
	}
	if _, err := eng.AuthorizeRelease(ctx, request.ID, "selfcheck-governor", release.DecisionAuthorize, release.Basis{
		RuleBasis: []string{"selfcheck"},
	}); err != nil {
		logger.Error("selfcheck: authorize failed", "error", err)
		return 1
	}
	if _, err := eng.ExecuteRelease(ctx, request.ID, "selfcheck-agent", release.OutcomeSuccess, "", "selfcheck"); err != nil {
		logger.Error("selfcheck: execute failed", "error", err)
		return 1
	}

	if err := trail.VerifyChain(); err != nil {
		logger.Error("selfcheck: audit chain broken", "error", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "selfcheck ok: %d audit entries, chain head %s\n",
		trail.Size(), trail.ChainHead())
	return 0
}

// runClassify reads a JSON autonomy input on stdin or from the first
// argument and prints the tier decision.
func runClassify(args []string, stdout, stderr io.Writer) int {
	var raw []byte
	var err error
	if len(args) > 0 {
		raw = []byte(args[0])
	} else {
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, "failed to read input:", err)
			return 1
		}
	}

	var in autonomy.Input
	if err := json.Unmarshal(raw, &in); err != nil {
		_, _ = fmt.Fprintln(stderr, "invalid input:", err)
		return 1
	}

	decision := autonomy.Evaluate(in)
	out, _ := json.MarshalIndent(decision, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}

// runProfiles loads and lists the configured jurisdiction pack profiles.
func runProfiles(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "config load failed:", err)
		return 1
	}

	profiles, err := config.LoadAllPackProfiles(cfg.ProfilesDir)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "profile load failed:", err)
		return 1
	}
	if len(profiles) == 0 {
		_, _ = fmt.Fprintf(stdout, "no profiles under %s\n", cfg.ProfilesDir)
		return 0
	}
	for key, profile := range profiles {
		groups := strings.Join(profile.AllowedToolGroups, ",")
		_, _ = fmt.Fprintf(stdout, "%-10s %-20s regulator=%s tool_groups=%s\n",
			key, profile.Name, profile.Regulator, groups)
	}
	return 0
}
