package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
	"github.com/delaneyj/resumable/snapshot"
	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"
)

const benchChunk = "bench.js"

func bench(ctx context.Context, cmd *cli.Command) error {
	width := int(cmd.Uint(widthKey))
	depth := int(cmd.Uint(depthKey))
	iters := int(cmd.Uint(itersKey))
	dev := cmd.Bool(devKey)

	start := time.Now()
	log.Printf("Benchmark %d components * %d fields, %d iterations", width, depth, iters)
	defer func() {
		log.Printf("Benchmark finished in %v", time.Since(start))
	}()

	reg := benchRegistry()
	lg := logger(cmd)

	pauseTach := tachymeter.New(&tachymeter.Config{Size: iters})
	resumeTach := tachymeter.New(&tachymeter.Config{Size: iters})
	var payloadSize int

	for i := 0; i < iters; i++ {
		doc, c, err := buildContainer(ctx, reg, width, depth, dev, lg)
		if err != nil {
			return err
		}

		t0 := time.Now()
		if _, err := snapshot.Pause(ctx, c); err != nil {
			return fmt.Errorf("bench: pause: %w", err)
		}
		pauseTach.AddTime(time.Since(t0))
		payloadSize = len(snapshot.PayloadScript(c.Root()).TextContent())

		var buf bytes.Buffer
		if err := dom.WriteHTML(&buf, doc); err != nil {
			return err
		}
		parsed, err := dom.Parse(&buf)
		if err != nil {
			return err
		}
		root := parsed.Find("div")
		c2 := core.New(root,
			core.WithPlatform(core.NewManualPlatform()),
			core.WithResolver(reg),
			core.WithDev(dev),
			core.WithLogger(lg),
		)

		t1 := time.Now()
		if err := snapshot.Resume(ctx, c2); err != nil {
			return fmt.Errorf("bench: resume: %w", err)
		}
		resumeTach.AddTime(time.Since(t1))

		c.Close()
		c2.Close()
	}

	tbl := table.NewWriter()
	tbl.SetTitle(fmt.Sprintf("Snapshot %d * %d (payload %s)", width, depth, humanize.Bytes(uint64(payloadSize))))
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})
	for _, r := range []struct {
		name string
		tach *tachymeter.Tachymeter
	}{
		{"pause", pauseTach},
		{"resume", resumeTach},
	} {
		calc := r.tach.Calc()
		tbl.AppendRow(table.Row{
			r.name,
			calc.Time.Avg,
			calc.Time.Min,
			calc.Time.P75,
			calc.Time.P99,
			calc.Time.Max,
		})
	}
	tbl.Render()
	return nil
}

func benchRegistry() *qrl.Registry {
	reg := qrl.NewRegistry()
	reg.Register(benchChunk, "render", core.RenderFn(func(ctx context.Context, rc *core.RenderContext, host *core.NodeContext) error {
		s := host.Seq[0].(*core.Store)
		for _, k := range s.Keys() {
			s.Get(k)
		}
		return nil
	}))
	reg.Register(benchChunk, "inc", core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		s := ev.Captured[0].(*core.Store)
		return s.Set("f0", s.Get("f0").(int)+1)
	}))
	return reg
}

// buildContainer renders width components, each reading a store of depth
// fields and holding a button nested depth elements deep.
func buildContainer(ctx context.Context, reg *qrl.Registry, width, depth int, dev bool, lg *slog.Logger) (*dom.Node, *core.Container, error) {
	doc := dom.NewDocument()
	html := dom.NewElement("html")
	body := dom.NewElement("body")
	root := dom.NewElement("div")
	doc.AppendChild(html)
	html.AppendChild(body)
	body.AppendChild(root)

	platform := core.NewManualPlatform()
	c := core.New(root,
		core.WithPlatform(platform),
		core.WithResolver(reg),
		core.WithDev(dev),
		core.WithLogger(lg),
	)

	for i := 0; i < width; i++ {
		hostEl := dom.NewElement("section")
		root.AppendChild(hostEl)
		parent := hostEl
		for j := 0; j < depth; j++ {
			el := dom.NewElement("div")
			parent.AppendChild(el)
			parent = el
		}
		btn := dom.NewElement("button")
		parent.AppendChild(btn)

		kv := make([]any, 0, 2*depth)
		for j := 0; j < depth; j++ {
			kv = append(kv, fmt.Sprintf("f%d", j), j)
		}
		if depth == 0 {
			kv = append(kv, "f0", 0)
		}
		store := c.NewStore(0, kv...)

		host := c.NodeContext(hostEl)
		host.Slot(0, func() any { return store })
		host.RenderQRL = qrl.New(benchChunk, "render")
		c.AddListener(btn, "click", qrl.New(benchChunk, "inc", store))
		c.NotifyRender(host)
	}
	platform.Flush()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return doc, c, nil
}
