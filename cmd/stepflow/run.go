package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/stepflow/internal/config"
	"github.com/kingrea/stepflow/internal/eventbridge"
	"github.com/kingrea/stepflow/internal/logbook"
	"github.com/kingrea/stepflow/internal/logging"
	"github.com/kingrea/stepflow/internal/stepflow"
	"github.com/kingrea/stepflow/internal/submission"
	"github.com/kingrea/stepflow/internal/telemetry"
	"github.com/kingrea/stepflow/internal/template"
	"github.com/kingrea/stepflow/internal/tui"
)

type runOptions struct {
	projectDir string
	template   string
	url        string
	companyID  string
	templateID string
	start      int
	noColor    bool
	bridge     bool
	noWatch    bool
	session    string
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the wizard for a template",
		Long: `Run loads a template from a file or the template service, then opens the
wizard. Each continued step is stored in .stepflow/data/submissions.db.

Examples:
  stepflow run --template .stepflow/templates/onboarding.yaml
  stepflow run --url https://api.example.com --company 42 --template-id 7
  stepflow run --template campaign.yaml --start 3 --bridge
  stepflow run --session 2f1c9e7a-... (resume a saved session)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.projectDir == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("get working directory: %w", err)
				}
				opts.projectDir = cwd
			}
			cfg, err := loadRunConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runWizard(ctx, cfg, opts.session, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.projectDir, "dir", "", "Project directory holding .stepflow (default: current directory)")
	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "Template file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.url, "url", "", "Template service base URL")
	cmd.Flags().StringVar(&opts.companyID, "company", "", "Company ID for the template service")
	cmd.Flags().StringVar(&opts.templateID, "template-id", "", "Template ID for the template service")
	cmd.Flags().IntVar(&opts.start, "start", 0, "Step to open first (-1 opens none)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colors")
	cmd.Flags().BoolVar(&opts.bridge, "bridge", false, "Accept out-of-band events over HTTP")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not reload the template file when it changes")
	cmd.Flags().StringVar(&opts.session, "session", "", "Resume a stored session instead of starting a new one")
	return cmd
}

// loadRunConfig reads .stepflow/config.yaml and lays the flags over it.
func loadRunConfig(cmd *cobra.Command, opts runOptions) (*config.Config, error) {
	if err := config.InitStepflowDir(opts.projectDir); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", config.StepflowDir, err)
	}
	cfg, err := config.Load(opts.projectDir)
	if err != nil {
		return nil, err
	}
	s := &cfg.Settings
	flags := cmd.Flags()
	if flags.Changed("template") {
		s.Template.Path = absPath(opts.template)
		s.Template.URL = ""
	}
	if flags.Changed("url") {
		s.Template.URL = strings.TrimSpace(opts.url)
	}
	if flags.Changed("company") {
		s.Template.CompanyID = strings.TrimSpace(opts.companyID)
	}
	if flags.Changed("template-id") {
		s.Template.TemplateID = strings.TrimSpace(opts.templateID)
	}
	if flags.Changed("start") {
		s.Wizard.StartStep = opts.start
	}
	if opts.noColor {
		s.TUI.NoColor = true
	}
	if opts.bridge {
		s.Bridge.Enabled = true
	}
	if opts.noWatch {
		s.Template.Watch = false
	}
	if s.Template.URL != "" && s.Template.TemplateID == "" {
		return nil, fmt.Errorf("--template-id is required with --url")
	}
	if s.Template.Remote() && s.Template.CompanyID == "" {
		return nil, fmt.Errorf("--company is required with --url")
	}
	if !s.Template.Remote() && s.Template.Path == "" {
		return nil, fmt.Errorf("no template: pass --template or --url with --template-id, or set template.path in %s", cfg.ProjectConfigPath())
	}
	return cfg, nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func runWizard(ctx context.Context, cfg *config.Config, sessionID string, cmd *cobra.Command) error {
	logger, err := logging.New(cfg.ProjectDir)
	if err != nil {
		return err
	}
	defer logger.Close()

	book, err := logbook.New(filepath.Join(cfg.LogsDir(), logbook.FileName))
	if err != nil {
		return err
	}

	tmpl, err := loadTemplate(ctx, cfg, logger)
	if err != nil {
		return err
	}

	store, err := submission.Open(cfg.SubmissionsPath())
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Settings.TUI.NoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	orchOpts := []stepflow.Option{
		stepflow.WithStartStep(startStep(cfg.Settings.Wizard.StartStep)),
		stepflow.WithLogger(logger.Prefixed("stepflow")),
	}
	if prompt := strings.TrimSpace(cfg.Settings.Wizard.Prompt); prompt != "" {
		orchOpts = append(orchOpts, stepflow.WithPrompt(prompt))
	}
	appOpts := []tui.Option{
		tui.WithContext(gctx),
		tui.WithLogbook(book),
		tui.WithSubmitter(store),
		tui.WithSessionID(sessionID),
		tui.WithOrchestratorOptions(orchOpts...),
	}

	if cfg.Settings.Telemetry.Enabled {
		provider := telemetry.NewProvider(book)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = provider.Shutdown(shutdownCtx)
		}()
		appOpts = append(appOpts, tui.WithTracer(provider.Tracer(stepflow.TracerName)))
	}

	if cfg.Settings.Template.Watch && !cfg.Settings.Template.Remote() {
		reloads := make(chan template.Template, 1)
		appOpts = append(appOpts, tui.WithReloads(reloads))
		path := cfg.Settings.Template.Path
		g.Go(func() error {
			err := template.Watch(gctx, path, func(t template.Template) {
				select {
				case reloads <- t:
				case <-gctx.Done():
				}
			}, logger.Prefixed("watch"))
			// The wizard keeps running without live reloads.
			if err != nil {
				logger.Printf("watch: %v", err)
			}
			return nil
		})
	}

	router := eventbridge.NewRouter(eventbridge.RouterWithLogger(logger.Prefixed("router")))
	bridge := cfg.Settings.Bridge
	if bridge.Enabled {
		sub := router.Subscribe(tmpl.ID)
		defer sub.Close()
		appOpts = append(appOpts, tui.WithEvents(sub.Events))
	}

	app, err := tui.New(tmpl, appOpts...)
	if err != nil {
		return err
	}

	if bridge.Enabled {
		server := eventbridge.NewServer(bridge,
			eventbridge.WithProcessor(router),
			eventbridge.WithWizard(tmpl.ID, sessionID, app.Orchestrator()),
			eventbridge.WithLogger(logger.Prefixed("eventbridge")),
		)
		ln, err := server.Listen()
		if err != nil {
			return err
		}
		book.Info("bridge listening on http://%s (session %s)", ln.Addr(), sessionID)
		g.Go(func() error {
			return server.Serve(gctx, ln)
		})
	}

	program := tea.NewProgram(app, tea.WithAltScreen())
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("run wizard: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		program.Quit()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	saved, err := store.List(context.Background(), sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d of %d step(s) for session %s\n", len(saved), len(tmpl.Steps), sessionID)
	return nil
}

// loadTemplate fetches the configured template and makes sure it carries an
// ID the bridge can route on.
func loadTemplate(ctx context.Context, cfg *config.Config, logger *logging.Logger) (template.Template, error) {
	tc := cfg.Settings.Template
	if tc.Remote() {
		client := template.NewClient(tc.URL, tc.CompanyID,
			template.WithAPIKey(tc.APIKey),
			template.WithClientLogger(logger.Prefixed("template")),
		)
		return client.Load(ctx, tc.TemplateID)
	}
	tmpl, err := template.LoadFile(tc.Path)
	if err != nil {
		return template.Template{}, err
	}
	if strings.TrimSpace(tmpl.ID) == "" {
		tmpl.ID = templateIDFromPath(tc.Path)
	}
	return tmpl, nil
}

func templateIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// startStep maps the config value onto the orchestrator's sentinel.
func startStep(configured int) int {
	if configured < 0 {
		return stepflow.None
	}
	if configured == 0 {
		return 1
	}
	return configured
}
