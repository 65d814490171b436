// Package terminal draws client frames on a tcell screen and turns mouse and
// keyboard activity into steering input.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/zeusync/blobarena/internal/core/geometry"
	"github.com/zeusync/blobarena/internal/core/prediction"
	"github.com/zeusync/blobarena/sdk/go/client"
)

// ErrQuit is returned by Poll when the user asks to leave.
var ErrQuit = errors.New("terminal: quit")

const (
	// UnitsPerCell is how many world units one column spans at scale 1.
	UnitsPerCell = 8.0
	// Terminal cells are roughly twice as tall as they are wide.
	cellAspect = 2.0
	keyReach   = 100.0
)

var (
	hudStyle   = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	warnStyle  = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	gridStyle  = tcell.StyleDefault.Foreground(tcell.ColorDarkSlateGray)
	selfMarker = tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
)

type Terminal struct {
	screen tcell.Screen
	world  geometry.World

	mu    sync.Mutex
	frame client.Frame
}

// New takes ownership of an initialised screen.
func New(screen tcell.Screen, world geometry.World) *Terminal {
	screen.EnableMouse(tcell.MouseMotionEvents)
	screen.HideCursor()
	return &Terminal{screen: screen, world: world}
}

// Open initialises the process terminal.
func Open(world geometry.World) (*Terminal, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	return New(screen, world), nil
}

func (t *Terminal) Close() { t.screen.Fini() }

// Render implements client.Renderer.
func (t *Terminal) Render(f client.Frame) {
	t.mu.Lock()
	t.frame = f
	t.mu.Unlock()
	t.draw(f)
}

func (t *Terminal) unitsPerCell(scale float64) float64 {
	if !(scale > 0) {
		scale = 1
	}
	return UnitsPerCell / scale
}

// project maps a world point to a cell relative to the viewport centre,
// which is always the local player.
func (t *Terminal) project(f client.Frame, p geometry.Vec2) (int, int) {
	w, h := t.screen.Size()
	d := t.world.DeltaPoint(f.Self.Position(), p)
	u := t.unitsPerCell(f.Scale)
	return w/2 + int(math.Round(d.X/u)), h/2 + int(math.Round(d.Y/(u*cellAspect)))
}

func (t *Terminal) draw(f client.Frame) {
	t.screen.Clear()
	t.drawGrid(f)

	for _, food := range f.Food {
		t.disc(f, food.Position(), food.Radius, food.Color, '·')
	}
	for _, sh := range f.Visible {
		t.disc(f, sh.Position(), sh.Radius, sh.Color, '█')
		x, y := t.project(f, sh.Position())
		t.text(x-len(sh.Name)/2, y, sh.Name, hudStyle)
	}
	t.disc(f, f.Self.Position(), f.Self.Radius, f.Self.Color, '█')
	w, h := t.screen.Size()
	t.screen.SetContent(w/2, h/2, '◆', nil, selfMarker)

	t.drawHUD(f)
	t.screen.Show()
}

// drawGrid marks every 100 world units so motion is visible on an empty map.
func (t *Terminal) drawGrid(f client.Frame) {
	const spacing = 100.0
	w, h := t.screen.Size()
	u := t.unitsPerCell(f.Scale)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			wx := t.world.Wrap(f.Self.X + float64(col-w/2)*u)
			wy := t.world.Wrap(f.Self.Y + float64(row-h/2)*u*cellAspect)
			if math.Mod(wx, spacing) < u && math.Mod(wy, spacing) < u*cellAspect {
				t.screen.SetContent(col, row, '+', nil, gridStyle)
			}
		}
	}
}

func (t *Terminal) disc(f client.Frame, p geometry.Vec2, r float64, color string, glyph rune) {
	fg, ok := ParseColor(color)
	if !ok {
		fg = tcell.ColorWhite
	}
	style := tcell.StyleDefault.Foreground(fg)

	cx, cy := t.project(f, p)
	u := t.unitsPerCell(f.Scale)
	rx := r / u
	ry := r / (u * cellAspect)
	if rx < 1 || ry < 0.5 {
		t.screen.SetContent(cx, cy, glyph, nil, style)
		return
	}
	for dy := -int(ry); dy <= int(ry); dy++ {
		for dx := -int(rx); dx <= int(rx); dx++ {
			nx, ny := float64(dx)/rx, float64(dy)/ry
			if nx*nx+ny*ny <= 1 {
				t.screen.SetContent(cx+dx, cy+dy, glyph, nil, style)
			}
		}
	}
}

func (t *Terminal) drawHUD(f client.Frame) {
	w, _ := t.screen.Size()
	t.text(0, 0, fmt.Sprintf("score %.1f  food %d  zoom %.2f", f.Score, len(f.Food), f.Scale), hudStyle)
	if !f.Connected {
		t.text(0, 1, "reconnecting...", warnStyle)
	}
	for i, p := range f.Leaderboard {
		line := fmt.Sprintf("%2d. %-12.12s %6.1f", i+1, p.Name, p.Radius)
		style := hudStyle
		if p.ID == f.Self.ID {
			style = selfMarker
		}
		t.text(w-len(line), i, line, style)
	}
}

func (t *Terminal) text(x, y int, s string, style tcell.Style) {
	for i, r := range []rune(s) {
		t.screen.SetContent(x+i, y, r, nil, style)
	}
}

// InputAt converts a pointer cell into the offset the prediction loop
// steers by, in world units at the current zoom.
func (t *Terminal) InputAt(col, row int) prediction.Input {
	t.mu.Lock()
	scale := t.frame.Scale
	t.mu.Unlock()

	w, h := t.screen.Size()
	u := t.unitsPerCell(scale)
	return prediction.Input{
		X:      float64(col-w/2) * u,
		Y:      float64(row-h/2) * u * cellAspect,
		Active: true,
	}
}

// Poll feeds input events into c until ctx ends or the user quits.
func (t *Terminal) Poll(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = t.screen.PostEvent(tcell.NewEventInterrupt(nil))
	}()

	for {
		ev := t.screen.PollEvent()
		if ev == nil {
			return nil
		}
		switch e := ev.(type) {
		case *tcell.EventInterrupt:
			if ctx.Err() != nil {
				return nil
			}
		case *tcell.EventResize:
			t.screen.Sync()
		case *tcell.EventMouse:
			x, y := e.Position()
			c.SetInput(t.InputAt(x, y))
		case *tcell.EventKey:
			in, quit := keyInput(e)
			if quit {
				return ErrQuit
			}
			c.SetInput(in)
		}
	}
}

func keyInput(e *tcell.EventKey) (prediction.Input, bool) {
	switch e.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return prediction.Input{}, true
	case tcell.KeyUp:
		return prediction.Input{Y: -keyReach, Active: true}, false
	case tcell.KeyDown:
		return prediction.Input{Y: keyReach, Active: true}, false
	case tcell.KeyLeft:
		return prediction.Input{X: -keyReach, Active: true}, false
	case tcell.KeyRight:
		return prediction.Input{X: keyReach, Active: true}, false
	case tcell.KeyRune:
		switch e.Rune() {
		case 'q':
			return prediction.Input{}, true
		case 'w':
			return prediction.Input{Y: -keyReach, Active: true}, false
		case 's':
			return prediction.Input{Y: keyReach, Active: true}, false
		case 'a':
			return prediction.Input{X: -keyReach, Active: true}, false
		case 'd':
			return prediction.Input{X: keyReach, Active: true}, false
		}
	}
	// Any other key stops the player.
	return prediction.Input{}, false
}
