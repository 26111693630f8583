package cli

import (
	"context"
	"fmt"
	"io"

	"taskfeed/internal/app"
	"taskfeed/internal/config"
	appLog "taskfeed/internal/log"
	"taskfeed/internal/model"
)

// Context is handed to every command's Run method.
type Context struct {
	Ctx    context.Context
	Config *config.Config
	App    *app.Service
	In     io.Reader
	Out    io.Writer
}

func (c *Context) printf(format string, args ...any) {
	fmt.Fprintf(c.Out, format, args...)
}

// warnEphemeralStore flags one-shot commands whose tasks live only as long
// as the process.
func (c *Context) warnEphemeralStore(command string) {
	if c.Config == nil || c.Config.Store.Driver != "memory" {
		return
	}
	appLog.Warn("task store is in-memory; tasks are lost when this command exits",
		"command", command,
		"hint", "set store.driver to sqlite or postgres",
	)
}

// parseKind validates a feed kind given on the command line.
func parseKind(s string) (model.FeedKind, error) {
	kind, ok := model.ParseFeedKind(s)
	if !ok {
		return "", fmt.Errorf("%w: %q (want shift or calendar)", app.ErrUnknownFeed, s)
	}
	return kind, nil
}
