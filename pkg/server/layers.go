package server

import (
	"github.com/uptrace/bun"

	"github.com/smilemakc/mbflow/internal/application/engine"
	"github.com/smilemakc/mbflow/internal/application/observer"
	"github.com/smilemakc/mbflow/internal/application/trigger"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/cache"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage"
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/filestore"
)

// DataLayer holds database connections and all repositories.
type DataLayer struct {
	DB         *bun.DB
	RedisCache *cache.RedisCache

	WorkflowRepo  *storage.WorkflowRepository
	ExecutionRepo *storage.ExecutionRepository
	EventRepo     *storage.EventRepository
	TriggerRepo   repository.TriggerRepository
	ResourceRepo  *storage.ResourceRepositoryImpl
	FileRepo      *storage.FileRepository
}

// ExecutionLayer holds workflow execution components.
type ExecutionLayer struct {
	ExecutorManager  executor.Manager
	ExecutionManager *engine.ExecutionManager
	ObserverManager  *observer.ObserverManager
	WSHub            *observer.WebSocketHub
	FileStore        filestore.Manager
}

// TriggerLayer holds trigger management components.
type TriggerLayer struct {
	TriggerManager *trigger.Manager
}
