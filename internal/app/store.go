package app

import (
	"fmt"

	"taskfeed/internal/config"
	appLog "taskfeed/internal/log"
	"taskfeed/internal/store/memory"
	"taskfeed/internal/store/postgres"
	"taskfeed/internal/store/sqlite"
	"taskfeed/internal/task"
)

// OpenStore builds the task collection selected by sc. The returned close
// function releases the backend and is never nil.
func OpenStore(sc config.StoreConfig) (task.Collection, func() error, error) {
	noop := func() error { return nil }

	switch sc.Driver {
	case "", "memory":
		appLog.Info("task store opened", "driver", "memory")
		return memory.NewTaskStore(), noop, nil

	case "sqlite":
		s, err := sqlite.Open(sc.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		appLog.Info("task store opened", "driver", "sqlite", "path", sc.DSN)
		return s, s.Close, nil

	case "postgres":
		db, err := postgres.Open(sc.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres store: %w", err)
		}
		appLog.Info("task store opened", "driver", "postgres")
		s := postgres.NewTaskStore(db)
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown store driver %q", sc.Driver)
}
