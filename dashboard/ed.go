// Package dashboard provides the terminal views operators watch while an
// ED or AS process runs: a gocui screen refreshed on a timer from the
// role's own status snapshot, in the same single-view-per-concern style
// the original chat client's UI used. Both views support --no-ui by
// simply never being constructed; the roles run identically headless.
package dashboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/jroimartin/gocui"

	"lora-ratchet/edloop"
)

const refreshInterval = 500 * time.Millisecond

// EDView renders the End Device's handshake devaddr, frame counter, and
// the number of uplinks left before the next DH-rekey.
type EDView struct {
	gui  *gocui.Gui
	loop *edloop.Loop
}

// NewEDView wraps an already-running ratchet loop.
func NewEDView(loop *edloop.Loop) *EDView {
	return &EDView{loop: loop}
}

// Run initializes the screen and blocks until the user quits (Ctrl+C). It
// does not watch the ratchet loop's context, so canceling that context
// does not close the screen.
func (v *EDView) Run() error {
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

func (v *EDView) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for range ticker.C {
		v.gui.Update(func(g *gocui.Gui) error {
			return v.render(g)
		})
	}
}

func (v *EDView) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	if view, err := g.SetView("status", 0, 0, maxX-1, maxY-1); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		view.Title = "end device"
		view.Wrap = true
	}
	return v.render(g)
}

func (v *EDView) render(g *gocui.Gui) error {
	view, err := g.View("status")
	if err != nil {
		return err
	}
	view.Clear()
	st := v.loop.Status()

	remaining := int(st.DHRConst) - int(st.SendCount)
	if remaining < 0 {
		remaining = 0
	}

	fmt.Fprintf(view, "devaddr:       %x\n", st.Devaddr)
	fmt.Fprintf(view, "fcnt_up:       %d\n", st.FcntUp)
	fmt.Fprintf(view, "send_count:    %d\n", st.SendCount)
	fmt.Fprintf(view, "dhr_const:     %d\n", st.DHRConst)
	fmt.Fprintf(view, "uplinks to rekey: %d\n", remaining)
	if !st.LastTick.IsZero() {
		fmt.Fprintf(view, "last tick:     %s\n", st.LastTick.Format(time.TimeOnly))
	}
	return nil
}

func quit(*gocui.Gui, *gocui.View) error {
	return gocui.ErrQuit
}
