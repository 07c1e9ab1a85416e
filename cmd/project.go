package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/config"
	"github.com/lockplane/migrator/internal/executor"
	"github.com/lockplane/migrator/internal/graph"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/recorder"
	"github.com/lockplane/migrator/internal/source"
	"github.com/lockplane/migrator/internal/state"
)

// project bundles what every command needs: configuration, the merged
// migration source and a logger
type project struct {
	cfg    *config.Config
	logger *zap.Logger
	source source.Source
	// primary is where new migrations are written
	primary *source.FileSource
}

func loadProject(cfg *config.Config, logger *zap.Logger) (*project, error) {
	policy, err := cfg.ConflictPolicy()
	if err != nil {
		return nil, err
	}
	dirs := cfg.MigrationDirs()
	sources := make([]source.Source, len(dirs))
	for i, dir := range dirs {
		sources[i] = source.NewFileSource(dir)
	}
	p := &project{
		cfg:     cfg,
		logger:  logger,
		primary: sources[0].(*source.FileSource),
		source:  sources[0],
	}
	if len(sources) > 1 {
		p.source = source.NewCompositeSource(policy, logger, sources...)
	}
	return p, nil
}

// graph loads every migration and builds the dependency graph
func (p *project) graph(ctx context.Context) (*graph.Graph, error) {
	ms, err := p.source.AllMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	g, err := graph.Build(ms, graph.BuildOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to build migration graph: %w", err)
	}
	return g, nil
}

// projectState replays the graph into the state every migration produces
func projectState(g *graph.Graph) (*state.ProjectState, error) {
	order, err := g.ExecutionOrder(map[migration.Key]bool{})
	if err != nil {
		return nil, err
	}
	return replayKeys(g, order)
}

func replayKeys(g *graph.Graph, keys []migration.Key) (*state.ProjectState, error) {
	ms := make([]*migration.Migration, 0, len(keys))
	for _, k := range keys {
		m, ok := g.Node(k)
		if !ok {
			return nil, fmt.Errorf("migration %s is not in the graph", k)
		}
		ms = append(ms, m)
	}
	return migration.Replay(ms)
}

// stateBefore replays the ancestors of k, excluding k
func stateBefore(g *graph.Graph, k migration.Key) (*state.ProjectState, error) {
	ancestors := make(map[migration.Key]bool)
	for _, a := range g.Ancestors(k) {
		ancestors[a] = true
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	var keys []migration.Key
	for _, o := range order {
		if ancestors[o] && o != k {
			keys = append(keys, o)
		}
	}
	return replayKeys(g, keys)
}

// connection is an open database with its ledger
type connection struct {
	db       *sql.DB
	driver   database.Driver
	dialect  string
	recorder *recorder.SQLRecorder
}

func (c *connection) Close() error { return c.db.Close() }

// connect resolves the database URL from --db or the selected environment,
// opens it and makes sure the ledger table exists
func (p *project) connect(ctx context.Context) (*connection, error) {
	url := strings.TrimSpace(flagDatabaseURL)
	if url == "" {
		env, err := config.ResolveEnvironment(p.cfg, flagEnvironment)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve environment: %w", err)
		}
		url = env.DatabaseURL
		p.logger.Debug("Resolved environment", zap.String("environment", env.Name), zap.Bool("dotenv", env.FromDotenv))
	}

	db, driver, err := executor.OpenDB(ctx, url)
	if err != nil {
		return nil, err
	}
	rec := recorder.NewSQLRecorder(db, driver)
	if err := rec.EnsureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &connection{db: db, driver: driver, dialect: executor.DetectDriver(url), recorder: rec}, nil
}

var leadingNumber = regexp.MustCompile(`^(\d+)_`)

// nextMigrationNumber returns one past the highest numeric prefix among the
// app's migrations, formatted as four digits
func nextMigrationNumber(g *graph.Graph, app string) string {
	highest := 0
	if g != nil {
		for _, k := range g.Keys() {
			if k.AppLabel != app {
				continue
			}
			if m := leadingNumber.FindStringSubmatch(k.Name); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
					highest = n
				}
			}
		}
	}
	return fmt.Sprintf("%04d", highest+1)
}

// autoName names a migration after its first operation
func autoName(g *graph.Graph, app string, ops []migration.Operation) string {
	number := nextMigrationNumber(g, app)
	if number == "0001" {
		return number + "_initial"
	}
	if len(ops) == 0 {
		return number + "_auto"
	}
	suffix := strings.ToLower(string(ops[0].Kind()))
	switch op := ops[0].(type) {
	case *migration.CreateModel:
		suffix = strings.ToLower(op.Name)
	case *migration.AddField:
		suffix = strings.ToLower(op.Model) + "_" + op.Field.Name
	case *migration.RemoveField:
		suffix = "remove_" + strings.ToLower(op.Model) + "_" + op.Name
	case *migration.DeleteModel:
		suffix = "delete_" + strings.ToLower(op.Name)
	}
	if len(ops) > 1 {
		suffix += "_and_more"
	}
	return number + "_" + suffix
}
