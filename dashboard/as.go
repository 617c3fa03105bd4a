package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jroimartin/gocui"

	"lora-ratchet/dispatcher"
)

// ASView renders the session registry: one row per devaddr, its
// pending-or-ratcheting state, and its diagnostic recv_count.
type ASView struct {
	gui *gocui.Gui
	d   *dispatcher.Dispatcher
}

// NewASView wraps an already-running dispatcher.
func NewASView(d *dispatcher.Dispatcher) *ASView {
	return &ASView{d: d}
}

// Run initializes the screen and blocks until the user quits (Ctrl+C).
func (v *ASView) Run() error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return fmt.Errorf("dashboard: init gocui: %w", err)
	}
	defer g.Close()
	v.gui = g
	g.SetManagerFunc(v.layout)

	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}

	go v.refreshLoop()

	if err := g.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func (v *ASView) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for range ticker.C {
		v.gui.Update(func(g *gocui.Gui) error {
			return v.render(g)
		})
	}
}

func (v *ASView) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	if view, err := g.SetView("registry", 0, 0, maxX-1, maxY-1); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		view.Title = "session registry"
		view.Wrap = true
	}
	return v.render(g)
}

func (v *ASView) render(g *gocui.Gui) error {
	view, err := g.View("registry")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
	defer cancel()
	rows, err := v.d.Snapshot(ctx)
	if err != nil {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i].Devaddr[:], rows[j].Devaddr[:]) < 0 })

	view.Clear()
	fmt.Fprintf(view, "%-10s %-12s %s\n", "devaddr", "state", "recv_count")
	for _, row := range rows {
		state := "ratcheting"
		if row.Pending {
			state = "pending"
		}
		fmt.Fprintf(view, "%-10x %-12s %d\n", row.Devaddr, state, row.RecvCount)
	}
	return nil
}
