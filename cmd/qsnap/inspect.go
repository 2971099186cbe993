package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/snapshot"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

func inspect(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("inspect: missing html file argument")
	}
	lg := logger(cmd)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := dom.Parse(f)
	if err != nil {
		return fmt.Errorf("inspect: parse %s: %w", path, err)
	}

	var containers []*dom.Node
	dom.Walk(doc, func(n *dom.Node) dom.WalkAction {
		if n.IsElement() && n.HasAttr(core.AttrContainer) {
			containers = append(containers, n)
		}
		return dom.Accept
	})
	lg.Debug("parsed document", "path", path, "containers", len(containers))
	if len(containers) == 0 {
		fmt.Printf("%s: no containers\n", path)
		return nil
	}

	for _, root := range containers {
		state, _ := root.Attr(core.AttrContainer)
		instance, _ := root.Attr(core.AttrInstance)
		fmt.Printf("container <%s> state=%q instance=%s\n", root.Tag, state, instance)

		script := snapshot.PayloadScript(root)
		if script == nil {
			lg.Warn("container has no snapshot", "tag", root.Tag, "instance", instance)
			continue
		}
		text := script.TextContent()
		st, err := snapshot.Decode(text)
		if err != nil {
			lg.Error("corrupt snapshot", "instance", instance, "error", err)
			continue
		}

		fmt.Printf("  payload   %s\n", humanize.Bytes(uint64(len(text))))
		fmt.Printf("  mode      %s\n", snapshot.InferMode(st))
		fmt.Printf("  objs      %s\n", humanize.Comma(int64(len(st.Objs))))
		fmt.Printf("  subs      %s\n", humanize.Comma(int64(len(st.Subs))))
		fmt.Printf("  elements  %s\n", humanize.Comma(int64(len(st.Ctx))))

		if len(st.Objs) == 0 {
			continue
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"id", "kind", "subscribed", "value"})
		for _, info := range snapshot.Describe(st) {
			subscribed := ""
			if info.Subscribed {
				subscribed = "yes"
			}
			table.Append([]string{info.ID, info.Kind, subscribed, info.Preview})
		}
		table.Render()
	}
	return nil
}
