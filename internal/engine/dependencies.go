package engine

import (
	"context"
	"time"

	"github.com/andrfilipenk/new-sub001/internal/repositories/attribute"
	"github.com/andrfilipenk/new-sub001/internal/repositories/entitytype"
	"github.com/andrfilipenk/new-sub001/pkg/database"
	"github.com/andrfilipenk/new-sub001/pkg/schema"
	"github.com/andrfilipenk/new-sub001/pkg/storage"
	"github.com/andrfilipenk/new-sub001/pkg/tracing"
)

// tracingDependency initializes the OTLP trace provider when tracing is
// enabled.
type tracingDependency struct {
	engine   *Engine
	shutdown func(context.Context) error
}

func (d *tracingDependency) GetName() string     { return "tracing" }
func (d *tracingDependency) DependsOn() []string { return nil }

func (d *tracingDependency) Start(ctx context.Context) error {
	cfg := d.engine.cfg
	if !cfg.TracingEnabled {
		return nil
	}
	shutdown, err := tracing.InitProvider(ctx, cfg.AppName, tracing.OTLPConfig{
		Endpoint:   cfg.OTLPEndpoint,
		Protocol:   cfg.OTLPTransport,
		Insecure:   true,
		Timeout:    10 * time.Second,
		SampleRate: cfg.TracingSampleRate,
	})
	if err != nil {
		return err
	}
	d.shutdown = shutdown
	return nil
}

func (d *tracingDependency) Stop(ctx context.Context) error {
	if d.shutdown == nil {
		return nil
	}
	return d.shutdown(ctx)
}

// databaseDependency connects the database and wires everything that needs
// it: repositories, the schema manager and the storage layer.
type databaseDependency struct {
	engine *Engine
}

func (d *databaseDependency) GetName() string     { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	cfg := d.engine.cfg
	db, err := database.Connect(ctx, database.Config{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, d.engine.logger)
	if err != nil {
		return err
	}
	d.engine.db = db

	entityTypes := entitytype.NewRepository(db, d.engine.logger)
	attributes := attribute.NewRepository(db, d.engine.logger)
	builder := schema.NewStructureBuilder()

	d.engine.schema = schema.NewManager(db, builder, entityTypes, attributes, d.engine.logger)
	d.engine.identity = storage.NewIdentityMap()
	d.engine.storage = storage.NewStorage(db, storage.NewStrategyFactory(), d.engine.identity, d.engine.logger)
	return nil
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	if d.engine.db == nil {
		return nil
	}
	return d.engine.db.Close()
}

// migrationDependency applies pending SQL migrations, including any pairs
// the migration generator has produced.
type migrationDependency struct {
	engine *Engine
}

func (d *migrationDependency) GetName() string     { return "migrations" }
func (d *migrationDependency) DependsOn() []string { return []string{"database"} }

func (d *migrationDependency) Start(ctx context.Context) error {
	cfg := d.engine.cfg
	if cfg.DatabaseMigrationFolderPath == "" {
		return nil
	}
	instance, ok := d.engine.db.(*database.DatabaseInstance)
	if !ok {
		return nil
	}

	driver, err := database.NewPostgresDriver(instance.DB.DB)
	if err != nil {
		return err
	}
	service := database.NewMigrationService(d.engine.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
	})
	return service.Migrate(cfg.DatabaseName, driver)
}

func (d *migrationDependency) Stop(ctx context.Context) error { return nil }

// schemaDependency makes sure the base schema exists before anything uses
// storage.
type schemaDependency struct {
	engine *Engine
}

func (d *schemaDependency) GetName() string     { return "schema" }
func (d *schemaDependency) DependsOn() []string { return []string{"database", "migrations"} }

func (d *schemaDependency) Start(ctx context.Context) error {
	return d.engine.schema.Initialize(ctx)
}

func (d *schemaDependency) Stop(ctx context.Context) error { return nil }

// broadcastDependency runs the cross-process invalidation listener when
// broadcasting is enabled.
type broadcastDependency struct {
	engine *Engine
}

func (d *broadcastDependency) GetName() string     { return "invalidation-broadcast" }
func (d *broadcastDependency) DependsOn() []string { return []string{"database"} }

func (d *broadcastDependency) Start(ctx context.Context) error {
	if d.engine.listener == nil {
		return nil
	}
	d.engine.listener.Start(ctx)
	return nil
}

func (d *broadcastDependency) Stop(ctx context.Context) error {
	var err error
	if d.engine.listener != nil {
		err = d.engine.listener.Stop()
	}
	if d.engine.broadcaster != nil {
		if cerr := d.engine.broadcaster.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
