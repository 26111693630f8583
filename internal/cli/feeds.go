package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type SyncCmd struct {
	Kind string `arg:"" optional:"" help:"Feed to sync (shift or calendar). Syncs every configured feed when omitted."`
}

func (c *SyncCmd) Run(ctx *Context) error {
	ctx.warnEphemeralStore("sync")
	if c.Kind != "" {
		kind, err := parseKind(c.Kind)
		if err != nil {
			return err
		}
		res, err := ctx.App.Sync(ctx.Ctx, kind)
		if err != nil {
			return err
		}
		ctx.printf("✓ %s: %d created, %d updated, %d skipped\n", kind, res.Created, res.Updated, res.Skipped)
		return nil
	}

	kinds := ctx.App.ConfiguredKinds()
	if len(kinds) == 0 {
		ctx.printf("No feeds configured.\n")
		return nil
	}
	results, err := ctx.App.SyncConfigured(ctx.Ctx)
	for _, kind := range kinds {
		if res, ok := results[kind]; ok {
			ctx.printf("✓ %s: %d created, %d updated, %d skipped\n", kind, res.Created, res.Updated, res.Skipped)
		}
	}
	return err
}

type StatusCmd struct {
	JSON bool `help:"Print JSON instead of text."`
}

func (c *StatusCmd) Run(ctx *Context) error {
	st, err := ctx.App.Status(ctx.Ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(ctx, st)
	}
	for _, f := range st.Feeds {
		if f.HasFeed {
			ctx.printf("  %-9s ok\n", f.Kind)
			continue
		}
		ctx.printf("  %-9s unavailable: %s\n", f.Kind, f.Reason)
	}
	return nil
}

type EventsCmd struct {
	Kind     string `arg:"" help:"Feed to list (shift or calendar)."`
	Days     int    `help:"Look-ahead window in days; 0 disables it." default:"7"`
	Upcoming bool   `help:"Hide events that have already ended."`
	JSON     bool   `help:"Print JSON instead of text."`
}

func (c *EventsCmd) Run(ctx *Context) error {
	kind, err := parseKind(c.Kind)
	if err != nil {
		return err
	}
	page, err := ctx.App.ListEvents(ctx.Ctx, kind, c.Days, c.Upcoming)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(ctx, page)
	}

	if page.Stale {
		ctx.printf("(stale: refresh failed, showing data from %s)\n", page.CachedAt.Format("2006-01-02 15:04"))
	}
	if len(page.Items) == 0 {
		ctx.printf("No events\n")
		return nil
	}
	for _, ev := range page.Items {
		line := fmt.Sprintf("  %s  %s", ev.Start, ev.Title)
		if ev.Location != "" {
			line += " @ " + ev.Location
		}
		ctx.printf("%s\n", line)
	}
	if page.Skipped > 0 {
		ctx.printf("%d malformed event(s) skipped\n", page.Skipped)
	}
	return nil
}

type VerifyCmd struct {
	Kind string `arg:"" help:"Feed to verify (shift or calendar)."`
}

func (c *VerifyCmd) Run(ctx *Context) error {
	kind, err := parseKind(c.Kind)
	if err != nil {
		return err
	}
	v, err := ctx.App.Verify(ctx.Ctx, kind)
	if err != nil {
		return err
	}
	if !v.OK {
		ctx.printf("✗ %s: %s\n", kind, v.Reason)
	} else {
		ctx.printf("✓ %s: %d event(s)\n", kind, v.Events)
	}

	// Group diagnostics by missing key set so large feeds stay readable.
	missing := map[string]int{}
	for _, s := range v.Skipped {
		key := s.Reason
		if len(s.Missing) > 0 {
			key += ": " + strings.Join(s.Missing, ", ")
		}
		missing[key]++
	}
	reasons := make([]string, 0, len(missing))
	for r := range missing {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		ctx.printf("  skipped %d block(s): %s\n", missing[r], r)
	}

	if !v.OK {
		return fmt.Errorf("feed %s failed verification", kind)
	}
	return nil
}

type ExportCmd struct {
	Source string `help:"Only export tasks from this source tag (e.g. w2w)."`
}

func (c *ExportCmd) Run(ctx *Context) error {
	ctx.warnEphemeralStore("export")
	body, err := ctx.App.ExportICS(ctx.Ctx, c.Source)
	if err != nil {
		return err
	}
	_, err = ctx.Out.Write(body)
	return err
}

func writeJSON(ctx *Context, v any) error {
	enc := json.NewEncoder(ctx.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
