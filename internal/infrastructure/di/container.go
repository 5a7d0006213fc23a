package di

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"

	agentgateway "github.com/hshk99/autopack/internal/adapter/gateway/agent"
	approvalgateway "github.com/hshk99/autopack/internal/adapter/gateway/approval"
	appconfig "github.com/hshk99/autopack/internal/app/config"
	"github.com/hshk99/autopack/internal/application/feedback"
	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/application/service"
	"github.com/hshk99/autopack/internal/application/usecase/execution"
	"github.com/hshk99/autopack/internal/application/usecase/loop"
	"github.com/hshk99/autopack/internal/domain/repository"
	"github.com/hshk99/autopack/internal/infrastructure/budget"
	sqliterepo "github.com/hshk99/autopack/internal/infrastructure/persistence/sqlite"
	filerepo "github.com/hshk99/autopack/internal/infrastructure/repository"
	"github.com/hshk99/autopack/internal/infrastructure/storage"
	"github.com/hshk99/autopack/internal/infrastructure/telemetry"
	"github.com/hshk99/autopack/internal/infrastructure/transaction"
	"github.com/hshk99/autopack/internal/infrastructure/workspace"
	"github.com/hshk99/autopack/internal/interface/cli/common"
)

// Config holds wiring options the app config does not carry
type Config struct {
	AppConfig       appconfig.Config
	ApprovalBaseURL string // approval/run-status service endpoint
	AgentBin        string // coding-agent CLI binary (empty selects the mock)
	AgentArgs       []string
	OutputWriter    io.Writer
}

// Container wires the engine together with manual dependency injection
type Container struct {
	config Config
	logger *common.Logger
	fs     afero.Fs

	// Infrastructure
	db          *sql.DB
	phaseRepo   repository.PhaseStateRepository
	actionRepo  repository.ActionLedgerRepository
	journalRepo repository.JournalRepository
	decisionLog repository.DecisionLogRepository
	txManager   output.TransactionManager
	storageGW   *storage.LocalStorageGateway
	usageStore  *budget.UsageStore

	// Gateways
	builderGW  output.BuilderGateway
	auditorGW  output.AuditorGateway
	approvalGW *approvalgateway.HTTPApprovalGateway

	// Services
	stateManager  *service.PhaseStateManager
	actionLedger  *service.ActionLedgerService
	approvalSvc   *service.ApprovalService
	modeManager   *service.ModeManager
	signalWatcher *service.SignalFileWatcher

	// Use cases
	decisionExec *execution.ExecuteDecisionUseCase
	phaseRunner  *execution.RunPhaseUseCase
	autoLoop     *loop.AutonomousLoop

	// Feedback
	feedbackDaemon *feedback.Daemon

	startedCtx context.CancelFunc
}

// NewContainer creates and initializes the DI container
func NewContainer(cfg Config) (*Container, error) {
	c := &Container{
		config: cfg,
		fs:     afero.NewOsFs(),
	}

	out := cfg.OutputWriter
	if out == nil {
		out = os.Stderr
	}
	c.logger = common.NewLogger(common.LogLevelFromString(cfg.AppConfig.StderrLevel()), out)

	if err := c.initializeInfrastructure(); err != nil {
		return nil, fmt.Errorf("initialize infrastructure: %w", err)
	}
	if err := c.initializeGateways(); err != nil {
		return nil, fmt.Errorf("initialize gateways: %w", err)
	}
	if err := c.initializeApplication(); err != nil {
		return nil, fmt.Errorf("initialize application: %w", err)
	}
	return c, nil
}

func (c *Container) initializeInfrastructure() error {
	app := c.config.AppConfig

	if err := os.MkdirAll(app.Home(), 0o755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}

	db, err := sql.Open("sqlite3", app.DBPath()+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	c.db = db

	migrator := sqliterepo.NewMigrator(db)
	if err := migrator.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	c.phaseRepo = sqliterepo.NewPhaseStateRepository(db)
	c.actionRepo = sqliterepo.NewActionLedgerRepository(db)
	c.txManager = transaction.NewSQLiteTransactionManager(db)

	c.journalRepo = filerepo.NewJournalRepository(c.fs, filepath.Join(app.Home(), "journal.ndjson"))
	c.decisionLog = filerepo.NewDecisionLogRepository(c.fs, app.Home())
	c.storageGW = storage.NewLocalStorageGateway(c.fs, filepath.Join(app.Home(), "artifacts"))
	c.usageStore = budget.NewUsageStore(c.fs, filepath.Join(app.Home(), "usage.json"), app.DailyTokenBudget())
	return nil
}

func (c *Container) initializeGateways() error {
	app := c.config.AppConfig

	if c.config.AgentBin == "" {
		mock := agentgateway.NewMockAgentGateway()
		c.builderGW = mock
		c.auditorGW = mock
		c.logger.Info("no agent binary configured, using mock agent")
	} else {
		gw := agentgateway.NewCLIAgentGateway(c.config.AgentBin, app.WorkspaceDir(), app.PhaseTimeout(), c.config.AgentArgs...)
		c.builderGW = gw
		c.auditorGW = gw
	}

	if c.config.ApprovalBaseURL != "" {
		c.approvalGW = approvalgateway.NewHTTPApprovalGateway(c.config.ApprovalBaseURL, 30*time.Second)
	}
	return nil
}

func (c *Container) initializeApplication() error {
	app := c.config.AppConfig

	c.stateManager = service.NewPhaseStateManager(c.phaseRepo, c.txManager, c.logger)
	c.actionLedger = service.NewActionLedgerService(c.actionRepo, c.storageGW, c.txManager, c.logger)
	c.modeManager = service.NewModeManager(c.logger)
	c.signalWatcher = service.NewSignalFileWatcher(c.fs, app.SignalFilePath(), 2*time.Second, c.modeManager, c.logger)

	if c.approvalGW != nil {
		c.approvalSvc = service.NewApprovalService(c.approvalGW, app.ApprovalPollInterval(), app.ApprovalTimeout(), c.logger)
	}

	var runner output.CommandRunner = &workspace.ExecCommandRunner{Dir: app.WorkspaceDir()}
	workspaceGW, err := workspace.NewGitWorkspaceGateway(app.WorkspaceDir(), runner, c.logger)
	if err != nil {
		// The workspace may not exist yet (init, status). Decision
		// execution fails loudly when it is actually needed.
		c.logger.Debug("workspace unavailable: %v", err)
	}

	if workspaceGW != nil {
		c.decisionExec = execution.NewExecuteDecisionUseCase(workspaceGW, runner, c.decisionLog, c.logger)
		c.phaseRunner = execution.NewRunPhaseUseCase(c.builderGW, c.auditorGW, c.decisionExec, c.stateManager, c.approvalSvc, c.journalRepo, c.logger)

		var statusGW output.RunStatusGateway
		if c.approvalGW != nil {
			statusGW = c.approvalGW
		}
		c.autoLoop = loop.NewAutonomousLoop(c.phaseRepo, c.phaseRunner, statusGW, c.usageStore, c.modeManager, app.RunTokenCap(), nil, c.logger)
	}

	c.feedbackDaemon = c.buildFeedbackDaemon()
	return nil
}

func (c *Container) buildFeedbackDaemon() *feedback.Daemon {
	app := c.config.AppConfig

	policy := feedback.DefaultPolicy()
	if app.FeedbackPolicyPath() != "" {
		if data, err := afero.ReadFile(c.fs, app.FeedbackPolicyPath()); err == nil {
			if parsed, err := feedback.ParsePolicy(data); err == nil {
				policy = parsed
			} else {
				c.logger.Warn("feedback policy ignored: %v", err)
			}
		}
	}

	source := telemetry.NewJournalTelemetrySource(c.journalRepo)
	generator := feedback.NewTaskGeneratorWithPolicy(policy, c.usageStore, c.logger)
	detector := feedback.NewRegressionDetector(policy.RegressionThreshold)
	sink := telemetry.NewFileTaskSink(c.storageGW)
	improvements := telemetry.NewFileImprovementStore(c.fs, filepath.Join(app.Home(), "improvements.json"))

	return feedback.NewDaemon(source, generator, detector, sink, improvements, app.FeedbackInterval(), c.logger)
}

// Start launches background components: the kill switch watcher and
// the feedback daemon.
func (c *Container) Start(ctx context.Context) {
	ctx, c.startedCtx = context.WithCancel(ctx)
	c.signalWatcher.Start(ctx)
	c.feedbackDaemon.Start(ctx)
}

// Close stops background components and releases the database
func (c *Container) Close() error {
	if c.startedCtx != nil {
		c.startedCtx()
		c.signalWatcher.Stop()
		if err := c.feedbackDaemon.Stop(); err != nil {
			c.logger.Warn("feedback daemon stop: %v", err)
		}
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Accessors

// Logger returns the container's logger
func (c *Container) Logger() *common.Logger { return c.logger }

// AppConfig returns the loaded application configuration
func (c *Container) AppConfig() appconfig.Config { return c.config.AppConfig }

// PhaseStateManager returns the phase state manager
func (c *Container) PhaseStateManager() *service.PhaseStateManager { return c.stateManager }

// ActionLedgerService returns the action ledger service
func (c *Container) ActionLedgerService() *service.ActionLedgerService { return c.actionLedger }

// ApprovalService returns the approval service, nil without an endpoint
func (c *Container) ApprovalService() *service.ApprovalService { return c.approvalSvc }

// ModeManager returns the mode manager
func (c *Container) ModeManager() *service.ModeManager { return c.modeManager }

// SignalFileWatcher returns the kill switch watcher
func (c *Container) SignalFileWatcher() *service.SignalFileWatcher { return c.signalWatcher }

// PhaseRepository returns the phase state repository
func (c *Container) PhaseRepository() repository.PhaseStateRepository { return c.phaseRepo }

// ActionRepository returns the action ledger repository
func (c *Container) ActionRepository() repository.ActionLedgerRepository { return c.actionRepo }

// JournalRepository returns the run journal
func (c *Container) JournalRepository() repository.JournalRepository { return c.journalRepo }

// AutonomousLoop returns the loop driver, nil when no workspace exists
func (c *Container) AutonomousLoop() *loop.AutonomousLoop { return c.autoLoop }

// RunPhaseUseCase returns the orchestrator, nil when no workspace exists
func (c *Container) RunPhaseUseCase() *execution.RunPhaseUseCase { return c.phaseRunner }

// FeedbackDaemon returns the telemetry feedback daemon
func (c *Container) FeedbackDaemon() *feedback.Daemon { return c.feedbackDaemon }

// UsageStore returns the token usage store
func (c *Container) UsageStore() *budget.UsageStore { return c.usageStore }
